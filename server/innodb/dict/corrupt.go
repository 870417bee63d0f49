package dict

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// SetCorruptedIndexCacheOnly 只在缓存中把索引标记为损坏，聚簇索引损坏时整张表标记为损坏
func (d *DictSys) SetCorruptedIndexCacheOnly(index *Index) {
	d.assertLocked()
	if index.IsClustered() && index.Table != nil {
		index.Table.Corrupted = true
	}
	index.Type |= IndexCorrupt
	logger.Warnf("Flagged corruption of %s in dictionary cache", index)
}

// findSingleTableBySpace 查找使用独立表空间 spaceID 的表
func (d *DictSys) findSingleTableBySpace(spaceID uint32) *Table {
	for e := d.lru.Front(); e != nil; e = e.Next() {
		if t := e.Value.(*Table); t.SpaceID == spaceID && t.UsesFilePerTable() {
			return t
		}
	}
	for e := d.nonLRU.Front(); e != nil; e = e.Next() {
		if t := e.Value.(*Table); t.SpaceID == spaceID && t.UsesFilePerTable() {
			return t
		}
	}
	return nil
}

// SetCorruptedBySpace 把使用该表空间的表标记为损坏且不可读
func (d *DictSys) SetCorruptedBySpace(spaceID uint32) bool {
	d.Lock()
	defer d.Unlock()

	table := d.findSingleTableBySpace(spaceID)
	if table == nil {
		return false
	}
	table.Corrupted = true
	table.FileUnreadable = true
	logger.Warnf("Table %s in tablespace %d flagged as corrupted", table.Name, spaceID)
	return true
}

// SetEncryptedBySpace 表空间无法解密时把表标记为不可读
func (d *DictSys) SetEncryptedBySpace(spaceID uint32) bool {
	d.Lock()
	defer d.Unlock()

	table := d.findSingleTableBySpace(spaceID)
	if table == nil {
		return false
	}
	table.Encrypted = true
	table.FileUnreadable = true
	return true
}

func checkMergeThreshold(threshold uint32) error {
	if threshold < IndexMergeThresholdMin || threshold > IndexMergeThresholdMax {
		return errors.Errorf("merge threshold %d out of range [%d, %d]",
			threshold, IndexMergeThresholdMin, IndexMergeThresholdMax)
	}
	return nil
}

// IndexSetMergeThreshold 设置索引页合并阈值
func (d *DictSys) IndexSetMergeThreshold(index *Index, threshold uint32) error {
	if err := checkMergeThreshold(threshold); err != nil {
		return err
	}
	d.Lock()
	index.MergeThreshold = threshold
	d.Unlock()
	return nil
}

// SetMergeThresholdAll 设置缓存中所有索引的合并阈值，超出范围时不做任何修改
func (d *DictSys) SetMergeThresholdAll(threshold uint32) error {
	if err := checkMergeThreshold(threshold); err != nil {
		return err
	}
	d.Lock()
	defer d.Unlock()
	for _, table := range d.Tables() {
		for _, index := range table.Indexes {
			index.MergeThreshold = threshold
		}
	}
	return nil
}

// IndexFindOnID 在所有缓存的表中按 ID 查找索引
func (d *DictSys) IndexFindOnID(id uint64) *Index {
	d.assertLocked()
	for _, table := range d.Tables() {
		if index := table.FindIndexOnID(id); index != nil {
			return index
		}
	}
	return nil
}

// TableFindIndexOnID 在表中按 ID 查找索引
func (d *DictSys) TableFindIndexOnID(table *Table, id uint64) *Index {
	d.assertLocked()
	return table.FindIndexOnID(id)
}

// TableGetIndexOnName 按名字查找已提交的索引
func (d *DictSys) TableGetIndexOnName(table *Table, name string) (*Index, error) {
	d.assertLocked()
	if index := table.GetIndexOnName(name, true); index != nil {
		return index, nil
	}
	return nil, errors.Annotatef(ErrIndexNotFound, "index %s of table %s", name, table.Name)
}
