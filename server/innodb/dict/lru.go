package dict

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// acquire 增加表的引用计数，可淘汰的表移到 LRU 头部
func (d *DictSys) acquire(table *Table) {
	d.assertLocked()
	table.refCount.Add(1)
	if table.canBeEvicted && table.lruElem != nil {
		d.lru.MoveToFront(table.lruElem)
	}
}

// release 减少表的引用计数，返回剩余引用数。
// 最后一个持有者释放时清除缓存的持久化统计信息，下次使用时重新从磁盘读取
func (d *DictSys) release(table *Table) int64 {
	d.assertLocked()
	n := table.refCount.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("dict: reference count underflow on %s", table))
	}
	if n == 0 && d.cfg.StatsPersistent && strings.Contains(table.Name, "/") {
		table.StatsInitialized = false
	}
	return n
}

// CanBeEvicted 表是否可以被淘汰：无引用、无锁、不参与外键、索引不被自适应哈希引用
func (d *DictSys) CanBeEvicted(table *Table) bool {
	d.assertLocked()
	if !table.canBeEvicted {
		return false
	}
	if table.RefCount() > 0 {
		return false
	}
	if d.deps.LockSys != nil && d.deps.LockSys.TableHasLocks(table.ID) {
		return false
	}
	if table.hasForeignKeys() {
		return false
	}
	for _, index := range table.Indexes {
		if index.AHIRefs() > 0 {
			return false
		}
	}
	return true
}

// MakeRoomInCache 从 LRU 尾部最多扫描 pctCheck% 的表，淘汰可淘汰的表，
// 直到 LRU 长度不超过 maxTables。返回淘汰的表数
func (d *DictSys) MakeRoomInCache(maxTables, pctCheck int) int {
	d.assertLocked()
	if pctCheck <= 0 || pctCheck > 100 {
		panic(fmt.Sprintf("dict: invalid LRU scan percentage %d", pctCheck))
	}

	length := d.lru.Len()
	if length < maxTables {
		return 0
	}

	checkUpTo := length - length*pctCheck/100
	nRemoved := 0

	i := length
	e := d.lru.Back()
	for e != nil && i > checkUpTo && length-nRemoved > maxTables {
		prev := e.Prev()
		table := e.Value.(*Table)
		if d.CanBeEvicted(table) {
			logger.Debugf("Evicting table %s from dictionary cache", table.Name)
			d.TableRemoveFromCache(table, true, false)
			nRemoved++
		}
		e = prev
		i--
	}

	d.stats.Evicted.Add(uint64(nRemoved))
	return nRemoved
}

// LRULen 可淘汰链表长度
func (d *DictSys) LRULen() int {
	d.assertLocked()
	return d.lru.Len()
}

// NonLRULen 不可淘汰链表长度
func (d *DictSys) NonLRULen() int {
	d.assertLocked()
	return d.nonLRU.Len()
}

// lruPosition 表在 LRU 中距头部的位置，不在 LRU 中返回 -1
func (d *DictSys) lruPosition(table *Table) int {
	pos := 0
	for e := d.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(*Table) == table {
			return pos
		}
		pos++
	}
	return -1
}
