package dict

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// OpenTableOnName 按名字打开表并增加引用。
// 缓存未命中时通过 Loader 加载；损坏的表返回 ErrTableInaccessible
func (d *DictSys) OpenTableOnName(name string, dictLocked, tryDrop bool, ignore IgnoreErr) (*Table, error) {
	if !dictLocked {
		d.Lock()
	}

	table, err := d.lookupOrLoadByName(name, ignore)
	if err != nil {
		if !dictLocked {
			d.Unlock()
		}
		return nil, err
	}

	if ignore == IgnoreNone && (table.FileUnreadable || table.Corrupted) {
		// 保留在缓存中以便后续 DROP TABLE
		d.PreventEviction(table)

		if table.Corrupted {
			logger.Errorf("Table %s is corrupted. Please drop the table and recreate it", table.Name)
			if !dictLocked {
				d.Unlock()
			}
			return nil, errors.Annotatef(ErrTableInaccessible, "table %s", table.Name)
		}

		d.acquire(table)
		if !dictLocked {
			d.Unlock()
		}
		return table, nil
	}

	d.acquire(table)

	if !dictLocked {
		d.tryDropAbortedAndUnlock(table, tryDrop)
	}
	return table, nil
}

func (d *DictSys) lookupOrLoadByName(name string, ignore IgnoreErr) (*Table, error) {
	if table := d.findByName(name); table != nil {
		d.stats.Hits.Add(1)
		return table, nil
	}
	d.stats.Misses.Add(1)

	if d.deps.Loader == nil {
		return nil, errors.Annotatef(ErrTableNotFound, "table %s", name)
	}
	table, err := d.deps.Loader.LoadTableByName(d, name, ignore)
	if err != nil {
		return nil, errors.Annotatef(err, "load table %s", name)
	}
	if table == nil {
		return nil, errors.Annotatef(ErrTableNotFound, "table %s", name)
	}
	return table, nil
}

// OpenTableOnID 按 ID 打开表并增加引用
func (d *DictSys) OpenTableOnID(id uint64, dictLocked bool, op TableOp) (*Table, error) {
	if !dictLocked {
		d.Lock()
	}

	table, err := d.openOnIDLow(id, op)
	if err != nil {
		if !dictLocked {
			d.Unlock()
		}
		return nil, err
	}
	d.acquire(table)

	if !dictLocked {
		d.tryDropAbortedAndUnlock(table, op == TableOpDropOrphan)
	}
	return table, nil
}

func (d *DictSys) openOnIDLow(id uint64, op TableOp) (*Table, error) {
	if table := d.findByID(id); table != nil {
		d.stats.Hits.Add(1)
		return table, nil
	}
	d.stats.Misses.Add(1)

	if op == TableOpOpenOnlyIfCached || d.deps.Loader == nil {
		return nil, errors.Annotatef(ErrTableNotFound, "table id %d", id)
	}
	table, err := d.deps.Loader.LoadTableByID(d, id, op)
	if err != nil {
		return nil, errors.Annotatef(err, "load table id %d", id)
	}
	if table == nil {
		return nil, errors.Annotatef(ErrTableNotFound, "table id %d", id)
	}
	return table, nil
}

// CloseTable 释放对表的引用。最后一个持有者关闭时，在后台清理在线建索引失败留下的索引
func (d *DictSys) CloseTable(table *Table, dictLocked, tryDrop bool) {
	if !dictLocked {
		d.Lock()
	}

	lastHandle := d.release(table) == 0

	if !dictLocked {
		tableID := table.ID
		dropAborted := lastHandle && tryDrop && table.DropAborted && table.FirstIndex() != nil
		d.Unlock()

		if dropAborted {
			d.submit(func() {
				d.tryDropAborted(nil, tableID, 0)
			})
		}
	}
}

// tryDropAbortedAndUnlock 调用方是唯一持有者时清理孤儿索引，并释放字典互斥锁
func (d *DictSys) tryDropAbortedAndUnlock(table *Table, tryDrop bool) {
	if tryDrop && table.DropAborted && table.RefCount() == 1 && table.FirstIndex() != nil {
		tableID := table.ID
		d.Unlock()
		d.tryDropAborted(table, tableID, 1)
		return
	}
	d.Unlock()
}

// TryDropAborted 若表无人使用，删除在线建索引失败留下的索引，返回删除的索引数
func (d *DictSys) TryDropAborted(tableID uint64) int {
	return d.tryDropAborted(nil, tableID, 0)
}

func (d *DictSys) tryDropAborted(table *Table, tableID uint64, refCount int64) int {
	d.Lock()
	defer d.Unlock()

	if table == nil {
		table = d.findByID(tableID)
	}
	if table == nil || table.RefCount() != refCount || !table.DropAborted {
		return 0
	}
	if d.deps.LockSys != nil && d.deps.LockSys.TableHasLocks(table.ID) {
		return 0
	}
	return d.dropAbortedIndexes(table)
}

// dropAbortedIndexes 删除未提交或构建失败的二级索引
func (d *DictSys) dropAbortedIndexes(table *Table) int {
	var victims []*Index
	for _, index := range table.Indexes {
		if index.IsClustered() {
			continue
		}
		if index.Uncommitted || index.onlineStatus >= OnlineIndexAborted {
			victims = append(victims, index)
		}
	}

	dropped := 0
	for _, index := range victims {
		if index.onlineStatus != OnlineIndexAbortedDropped && d.deps.Dropper != nil {
			if err := d.deps.Dropper.DropIndex(table, index); err != nil {
				logger.Errorf("Failed to drop index %s of table %s: %v", index.Name, table.Name, err)
				continue
			}
		}
		if index.onlineStatus == OnlineIndexAborted {
			index.onlineStatus = OnlineIndexAbortedDropped
		}
		d.indexRemoveFromCacheLow(table, index, false)
		dropped++
	}

	if dropped == len(victims) {
		table.DropAborted = false
	}
	if dropped > 0 {
		logger.Infof("Dropped %d aborted index(es) of table %s", dropped, table.Name)
	}
	return dropped
}

// submit 在任务池中执行后台任务，任务池已关闭时同步执行
func (d *DictSys) submit(fn func()) {
	d.bgWG.Add(1)
	task := func() {
		defer d.bgWG.Done()
		fn()
	}
	if !d.taskPool.AddTask(task) {
		task()
	}
}

// WaitBackground 等待后台任务完成
func (d *DictSys) WaitBackground() {
	d.bgWG.Wait()
}
