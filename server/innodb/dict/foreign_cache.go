package dict

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// ForeignFind 在表的外键集合和被引用集合中查找同 ID 的外键
func (d *DictSys) ForeignFind(table *Table, foreign *Foreign) *Foreign {
	d.assertLocked()
	if f := table.ForeignSet.Find(foreign.ID); f != nil {
		return f
	}
	return table.ReferencedSet.Find(foreign.ID)
}

// ForeignQualifyIndex 判断索引的前 nCols 个字段能否承载外键列
func ForeignQualifyIndex(table *Table, colNames, columns []string, index, typesIdx *Index,
	checkCharsets, checkNull bool) bool {
	nCols := len(columns)
	if index.NFields() < nCols {
		return false
	}
	if index.Type&(IndexSpatial|IndexFTS|IndexCorrupt) != 0 {
		return false
	}
	if index.onlineStatus >= OnlineIndexAborted {
		return false
	}

	for i := 0; i < nCols; i++ {
		field := index.Fields[i]
		if field.PrefixLen != 0 {
			// 前缀索引不能用于外键
			return false
		}
		if checkNull && !field.Col.IsNullable() {
			return false
		}

		var colName string
		if field.Col.IsVirtual() {
			for _, vcol := range table.VCols {
				colName = vcol.Name
				if strings.EqualFold(field.Name, colName) {
					break
				}
			}
		} else if colNames != nil && field.Col.Ind < len(colNames) {
			colName = colNames[field.Col.Ind]
		} else {
			colName = field.Col.Name
		}

		if !strings.EqualFold(columns[i], colName) {
			return false
		}

		if typesIdx != nil && !ColsAreEqual(field.Col, typesIdx.Fields[i].Col, checkCharsets) {
			return false
		}
	}
	return true
}

// ForeignFindIndex 在表中查找能承载外键列的索引，跳过 typesIdx 本身、待删除和在线构建中的索引
func ForeignFindIndex(table *Table, colNames, columns []string, typesIdx *Index,
	checkCharsets, checkNull bool) *Index {
	for _, index := range table.Indexes {
		if index == typesIdx || index.ToBeDropped || index.IsOnlineDDL() {
			continue
		}
		if ForeignQualifyIndex(table, colNames, columns, index, typesIdx, checkCharsets, checkNull) {
			return index
		}
	}
	return nil
}

// ForeignAddToCache 把外键加入缓存并建立两端的索引关联。
// 两端表至少有一个在缓存中；失败时撤销已做的插入
func (d *DictSys) ForeignAddToCache(foreign *Foreign, colNames []string, checkCharsets bool, ignore IgnoreErr) (*Foreign, error) {
	d.assertLocked()

	if foreign.ForeignTableNameLookup == "" || foreign.ReferencedTableNameLookup == "" {
		foreign.SetLookupNames(d.cfg.LowerCaseTableNames)
	}
	forTable := d.findByName(foreign.ForeignTableNameLookup)
	refTable := d.findByName(foreign.ReferencedTableNameLookup)
	if forTable == nil && refTable == nil {
		panic(fmt.Sprintf("dict: foreign key %s has neither table in cache", foreign.ID))
	}

	var forInCache *Foreign
	if forTable != nil {
		forInCache = d.ForeignFind(forTable, foreign)
	}
	if forInCache == nil && refTable != nil {
		forInCache = d.ForeignFind(refTable, foreign)
	}

	if forInCache != nil && forInCache != foreign && forTable != nil &&
		forInCache.ForeignTable != nil && forInCache.ForeignTable != forTable {
		// 缓存中的外键属于已被替换的表对象
		d.foreignDetach(forInCache)
		forInCache = nil
	}
	if forInCache == nil {
		forInCache = foreign
	}

	addedToReferenced := false
	if refTable != nil && forInCache.ReferencedTable == nil {
		index := ForeignFindIndex(refTable, nil, forInCache.ReferencedColNames,
			forInCache.ForeignIndex, checkCharsets, false)
		if index == nil && !ignore.Has(IgnoreFKNoKey) {
			d.foreignErrorReport(forInCache,
				"there is no index in referenced table which would contain\n"+
					"the columns as the first columns, or the data types in the\n"+
					"referenced table do not match the ones in table.")
			return nil, errors.Annotatef(ErrCannotAddConstraint, "foreign key %s: no index in referenced table %s",
				forInCache.ID, forInCache.ReferencedTableName)
		}
		forInCache.ReferencedTable = refTable
		forInCache.ReferencedIndex = index
		if !refTable.ReferencedSet.Add(forInCache) {
			panic(fmt.Sprintf("dict: foreign key %s already referenced by %s", forInCache.ID, refTable.Name))
		}
		addedToReferenced = true
	}

	if forTable != nil && forInCache.ForeignTable == nil {
		index := ForeignFindIndex(forTable, colNames, forInCache.ForeignColNames,
			forInCache.ReferencedIndex, checkCharsets,
			forInCache.Type&(ForeignDeleteSetNull|ForeignUpdateSetNull) != 0)
		if index == nil && !ignore.Has(IgnoreFKNoKey) {
			d.foreignErrorReport(forInCache,
				"there is no index in the table which would contain\n"+
					"the columns as the first columns, or the data types in the\n"+
					"table do not match the ones in the referenced table\n"+
					"or one of the ON ... SET NULL columns is declared NOT NULL.")
			if forInCache == foreign && addedToReferenced {
				refTable.ReferencedSet.Remove(forInCache)
				forInCache.ReferencedTable = nil
				forInCache.ReferencedIndex = nil
			}
			return nil, errors.Annotatef(ErrCannotAddConstraint, "foreign key %s: no index in table %s",
				forInCache.ID, forInCache.ForeignTableName)
		}
		forInCache.ForeignTable = forTable
		forInCache.ForeignIndex = index
		if !forTable.ForeignSet.Add(forInCache) {
			panic(fmt.Sprintf("dict: foreign key %s already in %s", forInCache.ID, forTable.Name))
		}
		forInCache.fillVColSet()
	}

	// 参与外键关系的表不能被淘汰
	if refTable != nil {
		d.pinForForeign(refTable)
	}
	if forTable != nil {
		d.pinForForeign(forTable)
	}

	return forInCache, nil
}

// ForeignRemoveFromCache 从两端的集合中删除外键
func (d *DictSys) ForeignRemoveFromCache(foreign *Foreign) {
	d.assertLocked()
	d.foreignDetach(foreign)
}

func (d *DictSys) foreignDetach(foreign *Foreign) {
	if ref := foreign.ReferencedTable; ref != nil {
		ref.ReferencedSet.Remove(foreign)
		d.unpinIfNoForeignKeys(ref)
	}
	if tbl := foreign.ForeignTable; tbl != nil {
		tbl.ForeignSet.Remove(foreign)
		d.unpinIfNoForeignKeys(tbl)
	}
}

func (d *DictSys) pinForForeign(table *Table) {
	if table.canBeEvicted {
		d.PreventEviction(table)
		table.pinnedByForeign = true
	}
}

// unpinIfNoForeignKeys 因外键被固定的表在外键全部移除后重新允许淘汰
func (d *DictSys) unpinIfNoForeignKeys(table *Table) {
	if table.pinnedByForeign && table.Cached && !table.hasForeignKeys() {
		d.AllowEviction(table)
	}
}

// ForeignReplaceIndex 为使用 index 的外键重新选择索引，全部找到替代索引时返回 true
func (d *DictSys) ForeignReplaceIndex(table *Table, colNames []string, index *Index) bool {
	d.assertLocked()
	found := true

	for _, foreign := range table.ForeignSet {
		if foreign.ForeignIndex != index {
			continue
		}
		newIndex := ForeignFindIndex(foreign.ForeignTable, colNames, foreign.ForeignColNames,
			index, true, false)
		if newIndex == nil {
			found = false
		}
		foreign.ForeignIndex = newIndex
	}

	for _, foreign := range table.ReferencedSet {
		if foreign.ReferencedIndex != index {
			continue
		}
		newIndex := ForeignFindIndex(foreign.ReferencedTable, nil, foreign.ReferencedColNames,
			index, true, false)
		if newIndex == nil {
			found = false
		}
		foreign.ReferencedIndex = newIndex
	}

	return found
}

// foreignErrorReport 把外键错误写入外键错误日志并保存为最近一次错误
func (d *DictSys) foreignErrorReport(foreign *Foreign, msg string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Error in foreign key constraint of table %s:\n",
		time.Now().Format("2006-01-02 15:04:05"), foreign.ForeignTableName)
	b.WriteString(msg)
	b.WriteString(" Constraint:\n")
	b.WriteString(ForeignKeyCreateFormat(foreign, true))
	b.WriteByte('\n')
	if foreign.ForeignIndex != nil {
		fmt.Fprintf(&b, "The index in the foreign key in table is %s\n", quoteIdentifier(foreign.ForeignIndex.Name))
		b.WriteString("Please refer to the manual for correct foreign key definition.\n")
	}

	d.fkErrMu.Lock()
	d.latestFKErr = b.String()
	d.fkErrMu.Unlock()

	logger.ForeignKeyError(foreign.ForeignTableName, b.String())
}

// LatestForeignKeyError 最近一次外键错误的描述
func (d *DictSys) LatestForeignKeyError() string {
	d.fkErrMu.Lock()
	defer d.fkErrMu.Unlock()
	return d.latestFKErr
}
