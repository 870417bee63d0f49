package dict

import (
	"strings"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// TableRenameInCache 在缓存中重命名表。
// 独立表空间先重命名数据文件，失败时缓存保持不变。
// renameAlsoForeigns 为 false 时表上的外键视为被删除，由持久化字典重新加载
func (d *DictSys) TableRenameInCache(table *Table, newName string, renameAlsoForeigns bool) error {
	d.assertLocked()

	oldName := table.Name
	if other := d.findByName(newName); other != nil {
		logger.Errorf("Cannot rename table '%s' to '%s' since the dictionary cache already contains '%s'.",
			oldName, newName, newName)
		return errors.Annotatef(ErrNameCollision, "rename %s to %s", oldName, newName)
	}

	if err := d.renameTablespace(table, newName); err != nil {
		return errors.Trace(err)
	}

	d.tableHash.delete(foldName(table.lookupKey), table)
	table.Name = newName
	table.lookupKey = lookupName(newName, d.cfg.LowerCaseTableNames)
	d.tableHash.insert(foldName(table.lookupKey), table)
	atomic.AddUint64(&table.renameGen, 1)
	d.stats.Renames.Add(1)

	for _, index := range table.Indexes {
		index.TableName = newName
	}

	if !renameAlsoForeigns {
		d.dropForeignsOnRename(table)
		return nil
	}

	d.renameForeigns(table, oldName)
	return nil
}

func (d *DictSys) renameTablespace(table *Table, newName string) error {
	if table.IsDiscarded() {
		logger.Infof("Table %s is discarded, skip renaming its tablespace file", table.Name)
		return nil
	}
	if !table.UsesFilePerTable() || d.deps.Files == nil {
		return nil
	}
	if table.IsTemporary() {
		logger.Errorf("Trying to rename a TEMPORARY TABLE %s", table.Name)
		return errors.Errorf("cannot rename temporary table %s", table.Name)
	}

	dataDir := ""
	if table.Flags&TableFlagDataDir != 0 {
		dataDir = table.DataDirPath
	}
	return d.deps.Files.RenameTablespace(table.SpaceID, table.Name, newName, dataDir)
}

// dropForeignsOnRename 把表上的外键从缓存中摘除，被引用端只清空反向指针
func (d *DictSys) dropForeignsOnRename(table *Table) {
	for _, foreign := range table.ForeignSet {
		if ref := foreign.ReferencedTable; ref != nil && ref != table {
			ref.ReferencedSet.Remove(foreign)
			d.unpinIfNoForeignKeys(ref)
		}
	}
	table.ForeignSet = NewForeignSet()

	for _, foreign := range table.ReferencedSet {
		foreign.ReferencedTable = nil
		foreign.ReferencedIndex = nil
	}
	table.ReferencedSet = NewForeignSet()

	d.unpinIfNoForeignKeys(table)
}

// renameForeigns 更新外键中的表名，重新生成由旧表名派生的外键 ID
func (d *DictSys) renameForeigns(table *Table, oldName string) {
	newName := table.Name
	fkSet := NewForeignSet()

	for _, foreign := range table.ForeignSet.Sorted() {
		if ref := foreign.ReferencedTable; ref != nil {
			ref.ReferencedSet.Remove(foreign)
		}

		foreign.ForeignTableName = newName
		foreign.ForeignTableNameLookup = lookupName(newName, d.cfg.LowerCaseTableNames)

		if strings.Contains(foreign.ID, "/") {
			foreign.ID = renamedForeignID(foreign.ID, oldName, newName)
		}

		fkSet.Add(foreign)
		if ref := foreign.ReferencedTable; ref != nil {
			ref.ReferencedSet.Add(foreign)
		}
	}
	table.ForeignSet = fkSet

	for _, foreign := range table.ReferencedSet {
		foreign.ReferencedTableName = newName
		foreign.ReferencedTableNameLookup = lookupName(newName, d.cfg.LowerCaseTableNames)
	}
}

// renamedForeignID 自动生成的 ID 替换表名前缀，用户指定的 ID 只替换库名
func renamedForeignID(oldID, oldName, newName string) string {
	prefix := oldName + foreignIDSuffix
	if len(oldID) > len(prefix) && strings.HasPrefix(oldID, prefix) {
		return newName + oldID[len(oldName):]
	}
	return DBName(newName) + "/" + RemoveDBName(oldID)
}

// TableChangeIDInCache 修改表 ID，只更新 ID 哈希表
func (d *DictSys) TableChangeIDInCache(table *Table, newID uint64) error {
	d.assertLocked()
	if table.IsTemporary() {
		return errors.Annotatef(ErrTempTableIDChange, "table %s", table.Name)
	}
	if other := d.findByID(newID); other != nil && other != table {
		return errors.Annotatef(ErrDuplicateTable, "table id %d already used by %s", newID, other.Name)
	}

	d.tableIDHash.delete(foldID(table.ID), table)
	table.ID = newID
	d.tableIDHash.insert(foldID(table.ID), table)
	return nil
}
