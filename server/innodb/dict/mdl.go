package dict

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// mdlState 获取元数据锁的状态
type mdlState int

const (
	mdlResolve mdlState = iota
	mdlAwait
	mdlRevalidate
)

// mdlKeyOf 计算表的元数据锁对象名。
// 不含库名的表和 #sql 中间表不需要元数据锁，返回 false
func (d *DictSys) mdlKeyOf(table *Table) (MDLKey, bool) {
	db, tbl, ok := ParseTableName(table.Name)
	if !ok || db == "" {
		return MDLKey{}, false
	}
	if strings.HasPrefix(tbl, tmpFilePrefix) {
		return MDLKey{}, false
	}
	tbl = StripPartition(tbl)
	if d.cfg.LowerCaseTableNames != 0 {
		db = strings.ToLower(db)
		tbl = strings.ToLower(tbl)
	}
	return MDLKey{DB: db, Table: tbl}, true
}

// MDLKeyForName 表名对应的元数据锁对象名，DDL 加排他锁时使用
func (d *DictSys) MDLKeyForName(name string) (MDLKey, bool) {
	return d.mdlKeyOf(&Table{Name: name})
}

func isAccessible(table *Table) bool {
	return !table.FileUnreadable && !table.Corrupted
}

// AcquireMDLShared 为已持有引用的表获取共享元数据锁，容忍并发的重命名和删除。
// 调用时必须持有字典互斥锁和表的引用；返回的表带有一个新的引用。
// 阻塞模式在等待锁期间释放字典互斥锁；nowait 模式全程持有互斥锁，锁不可用时立即失败。
// 表被并发重命名时释放旧名字上的锁并用新名字重试，重试次数超过 MaxRenameRetries 返回 ErrTooManyRenames
func (d *DictSys) AcquireMDLShared(ctx context.Context, table *Table, mdl MDLContext, nowait bool, op TableOp) (*Table, MDLTicket, error) {
	d.assertLocked()

	key, ok := d.mdlKeyOf(table)
	if !ok {
		return table, nil, nil
	}

	var (
		tableID = table.ID
		ticket  MDLTicket
		prev    *Table
		gen     uint64
		retries int
		state   = mdlResolve
	)

	releaseTicket := func() {
		if ticket != nil {
			mdl.Release(ticket)
			ticket = nil
		}
	}

	for {
		switch state {
		case mdlResolve:
			accessible := isAccessible(table)
			if !accessible {
				releaseTicket()
			}
			prev, gen = table, table.RenameGeneration()
			// 等待期间不持有表引用，表可以被删除或淘汰
			d.release(table)
			table = nil
			if !accessible {
				return nil, nil, errors.Annotatef(ErrTableInaccessible, "table id %d", tableID)
			}
			state = mdlAwait

		case mdlAwait:
			var err error
			if nowait {
				ticket, err = mdl.AcquireShared(ctx, key, true)
				if err != nil {
					return nil, nil, errors.Annotatef(ErrLockUnavailable, "%s: %v", key, err)
				}
			} else {
				d.Unlock()
				ticket, err = mdl.AcquireShared(ctx, key, false)
				d.Lock()
				if err != nil {
					return nil, nil, errors.Annotatef(err, "acquire metadata lock on %s", key)
				}
			}
			state = mdlRevalidate

		case mdlRevalidate:
			t, err := d.openOnIDLow(tableID, op)
			if err != nil {
				releaseTicket()
				return nil, nil, errors.Trace(err)
			}
			d.acquire(t)

			if !isAccessible(t) {
				d.release(t)
				releaseTicket()
				return nil, nil, errors.Annotatef(ErrTableInaccessible, "table %s", t.Name)
			}

			// 同一个表对象且未被重命名，名字不可能变化
			if t == prev && t.RenameGeneration() == gen {
				return t, ticket, nil
			}

			newKey, ok := d.mdlKeyOf(t)
			if !ok {
				// 被重命名为中间表
				d.release(t)
				releaseTicket()
				return nil, nil, errors.Annotatef(ErrTableNotFound, "table id %d renamed to %s", tableID, t.Name)
			}
			if newKey == key {
				return t, ticket, nil
			}

			releaseTicket()
			retries++
			d.stats.MDLRetries.Add(1)
			if retries > d.cfg.MaxRenameRetries {
				d.release(t)
				logger.Warnf("Gave up acquiring metadata lock on table id %d after %d renames", tableID, retries-1)
				return nil, nil, errors.Annotatef(ErrTooManyRenames, "table id %d", tableID)
			}
			logger.Debugf("Table id %d renamed from %s to %s while waiting for metadata lock, retrying", tableID, key, newKey)
			key = newKey
			table = t
			state = mdlResolve
		}
	}
}

// OpenTableOnIDWithMDL 按 ID 打开表并获取共享元数据锁
func (d *DictSys) OpenTableOnIDWithMDL(ctx context.Context, id uint64, mdl MDLContext, nowait bool, op TableOp) (*Table, MDLTicket, error) {
	d.Lock()
	defer d.Unlock()

	table, err := d.OpenTableOnID(id, true, op)
	if err != nil {
		return nil, nil, err
	}
	if mdl == nil {
		return table, nil, nil
	}
	return d.AcquireMDLShared(ctx, table, mdl, nowait, op)
}

// CloseTableAndReleaseMDL 释放表引用和元数据锁
func (d *DictSys) CloseTableAndReleaseMDL(table *Table, dictLocked bool, mdl MDLContext, ticket MDLTicket) {
	d.CloseTable(table, dictLocked, false)
	if mdl != nil && ticket != nil {
		mdl.Release(ticket)
	}
}
