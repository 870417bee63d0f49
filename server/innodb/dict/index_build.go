package dict

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-dict/logger"
)

const (
	// dataMBRLen 空间索引首字段存放最小外接矩形
	dataMBRLen = 4 * 8
	// maxFixedColLen 超过该长度的定长列按变长处理
	maxFixedColLen = 768
)

// IndexAddToCache 把用户声明的索引物化为内部索引并加入表的索引链表，
// 返回替代草稿的新索引
func (d *DictSys) IndexAddToCache(table *Table, index *Index, pageNo uint32) (*Index, error) {
	return d.IndexAddToCacheWithVCols(table, index, nil, pageNo)
}

// IndexAddToCacheWithVCols 同 IndexAddToCache，addV 为在线 DDL 中正在添加的虚拟列
func (d *DictSys) IndexAddToCacheWithVCols(table *Table, index *Index, addV []*Column, pageNo uint32) (*Index, error) {
	d.assertLocked()

	if index.IsClustered() && len(table.Indexes) != 0 {
		panic(fmt.Sprintf("dict: clustered index %s must be the first index of %s", index.Name, table.Name))
	}
	if !index.IsClustered() && !index.IsFTS() && table.FirstIndex() == nil {
		panic(fmt.Sprintf("dict: %s added before the clustered index", index))
	}
	table.AddSystemColumns()

	if err := findCols(table, index, addV); err != nil {
		if index.IsClustered() {
			table.FileUnreadable = true
		}
		return nil, errors.Trace(err)
	}

	var newIndex *Index
	switch {
	case index.IsFTS():
		newIndex = buildInternalFTS(table, index)
	case index.IsClustered():
		newIndex = buildInternalClust(table, index)
	default:
		newIndex = buildInternalNonClust(table, index)
	}

	newIndex.Uncommitted = index.Uncommitted
	newIndex.onlineStatus = index.onlineStatus
	newIndex.ToBeDropped = index.ToBeDropped
	newIndex.MergeThreshold = index.MergeThreshold
	newIndex.Page = pageNo

	updateMaxPrefix(newIndex)

	newIndex.Table = table
	newIndex.TableName = table.Name
	newIndex.Cached = true
	table.Indexes = append(table.Indexes, newIndex)

	return newIndex, nil
}

// updateMaxPrefix 标记唯一键前缀中的列并维护列的最大索引前缀长度
func updateMaxPrefix(index *Index) {
	for i := 0; i < index.NUniq; i++ {
		field := index.Fields[i]
		col := field.Col
		switch {
		case !col.OrdPart:
			col.MaxPrefix = field.PrefixLen
			col.OrdPart = true
		case field.PrefixLen == 0:
			// 完整列索引优先于任何前缀索引
			col.MaxPrefix = 0
		case col.MaxPrefix != 0 && field.PrefixLen > col.MaxPrefix:
			col.MaxPrefix = field.PrefixLen
		}
	}
}

// findCols 按名字把索引字段解析到表的普通列、虚拟列或在线添加的虚拟列
func findCols(table *Table, index *Index, addV []*Column) error {
	colAdded := make(map[int]bool, len(index.Fields))
	vcolAdded := make(map[int]bool)

next:
	for _, field := range index.Fields {
		for j, col := range table.Cols {
			if columnNameEqual(col.Name, field.Name) {
				if colAdded[j] {
					return dupOrMissing(table, index, field)
				}
				field.Col = col
				colAdded[j] = true
				continue next
			}
		}

		for j, vcol := range table.VCols {
			if vcol.Name == field.Name {
				if vcolAdded[j] {
					return dupOrMissing(table, index, field)
				}
				field.Col = vcol
				vcolAdded[j] = true
				continue next
			}
		}

		for _, vcol := range addV {
			if vcol.Name == field.Name {
				field.Col = vcol
				continue next
			}
		}

		return dupOrMissing(table, index, field)
	}
	return nil
}

func dupOrMissing(table *Table, index *Index, field *Field) error {
	logger.Errorf("No matching column for %s in index %s of table %s", field.Name, index.Name, table.Name)
	return errors.Annotatef(ErrCorruption, "no matching column for %s in index %s of table %s",
		field.Name, index.Name, table.Name)
}

// newInternalIndex 创建内部索引，继承草稿的 ID 与名字
func newInternalIndex(table *Table, index *Index, spaceID uint32, nFields int) *Index {
	newIndex := NewIndex(table.Name, index.Name, spaceID, index.Type, nFields)
	newIndex.ID = index.ID
	newIndex.NUserDefinedCols = len(index.Fields)
	return newIndex
}

// addCol 向内部索引追加一列
func addCol(index *Index, table *Table, col *Column, prefixLen uint32, ascending bool) {
	field := &Field{
		Col:       col,
		Name:      col.Name,
		PrefixLen: prefixLen,
		Ascending: ascending,
	}

	if index.IsSpatial() && (col.Mtype == DataPoint || col.Mtype == DataVarPoint) && len(index.Fields) == 0 {
		field.FixedLen = dataMBRLen
	} else {
		field.FixedLen = col.FixedSize(table.IsCompact())
	}
	if prefixLen != 0 && field.FixedLen > prefixLen {
		field.FixedLen = prefixLen
	}
	// 需要外部存储的长定长列按变长处理
	if field.FixedLen > maxFixedColLen {
		field.FixedLen = 0
	}
	if col.IsNullable() {
		index.NNullable++
	}
	index.Fields = append(index.Fields, field)
}

func copyFields(dst, src *Index, table *Table) {
	for _, field := range src.Fields {
		addCol(dst, table, field.Col, field.PrefixLen, field.Ascending)
	}
}

// buildInternalClust 物化聚簇索引：用户字段、DB_ROW_ID（非唯一时）、DB_TRX_ID、
// DB_ROLL_PTR，再追加尚未完整包含的其他列
func buildInternalClust(table *Table, index *Index) *Index {
	newIndex := newInternalIndex(table, index, table.SpaceID, len(index.Fields)+len(table.Cols))

	copyFields(newIndex, index, table)

	if index.IsUnique() {
		newIndex.NUniq = newIndex.NFields()
	} else {
		newIndex.NUniq = newIndex.NFields() + 1
	}

	trxIDPos := newIndex.NFields()
	if !index.IsUnique() {
		addCol(newIndex, table, table.SysCol(DataRowID), 0, true)
		trxIDPos++
	}
	addCol(newIndex, table, table.SysCol(DataTrxID), 0, true)

	newIndex.TrxIDOffset = 0
	for i := 0; i < trxIDPos; i++ {
		field := newIndex.Fields[i]
		fixedSize := field.Col.FixedSize(table.IsCompact())
		if fixedSize == 0 || field.PrefixLen > 0 {
			newIndex.TrxIDOffset = 0
			break
		}
		offset := newIndex.TrxIDOffset + fixedSize
		if offset > MaxFixedTrxIDOffset {
			// 溢出时视作变长主键
			newIndex.TrxIDOffset = 0
			break
		}
		newIndex.TrxIDOffset = offset
	}

	addCol(newIndex, table, table.SysCol(DataRollPtr), 0, true)

	indexed := make([]bool, len(table.Cols))
	for _, field := range newIndex.Fields {
		if field.Col.IsVirtual() {
			continue
		}
		// 前缀字段不算包含了该列
		if field.PrefixLen == 0 {
			indexed[field.Col.Ind] = true
		}
	}

	for i := 0; i < table.NUserCols(); i++ {
		col := table.Cols[i]
		if !indexed[col.Ind] {
			addCol(newIndex, table, col, 0, true)
		}
	}

	return newIndex
}

// buildInternalNonClust 物化二级索引：用户字段后追加聚簇索引唯一键中尚未完整包含的列，
// 空间索引无条件追加
func buildInternalNonClust(table *Table, index *Index) *Index {
	clust := table.FirstIndex()
	newIndex := newInternalIndex(table, index, index.SpaceID, len(index.Fields)+1+clust.NUniq)

	copyFields(newIndex, index, table)

	indexed := make([]bool, len(table.Cols))
	for _, field := range newIndex.Fields {
		if field.Col.IsVirtual() {
			continue
		}
		if field.PrefixLen == 0 {
			indexed[field.Col.Ind] = true
		}
	}

	for i := 0; i < clust.NUniq; i++ {
		field := clust.Fields[i]
		if !indexed[field.Col.Ind] || index.IsSpatial() {
			addCol(newIndex, table, field.Col, field.PrefixLen, field.Ascending)
		}
	}

	if index.IsUnique() {
		newIndex.NUniq = len(index.Fields)
	} else {
		newIndex.NUniq = newIndex.NFields()
	}
	return newIndex
}

// buildInternalFTS 物化全文索引，不追加系统列，并登记到表的全文缓存
func buildInternalFTS(table *Table, index *Index) *Index {
	newIndex := newInternalIndex(table, index, index.SpaceID, len(index.Fields))

	copyFields(newIndex, index, table)
	newIndex.NUniq = 0

	if table.FTS == nil {
		table.FTS = newFTS()
	}
	table.Flags2 |= TableFlag2FTS
	table.FTS.addIndex(newIndex)

	return newIndex
}

// IndexRemoveFromCache 从表中删除索引
func (d *DictSys) IndexRemoveFromCache(table *Table, index *Index) {
	d.assertLocked()
	d.indexRemoveFromCacheLow(table, index, false)
}

func (d *DictSys) indexRemoveFromCacheLow(table *Table, index *Index, lru bool) {
	pos := -1
	for i, idx := range table.Indexes {
		if idx == index {
			pos = i
			break
		}
	}
	if pos < 0 {
		panic(fmt.Sprintf("dict: %s not in table index list", index))
	}
	table.Indexes = append(table.Indexes[:pos], table.Indexes[pos+1:]...)

	// 索引被删除时清理其压缩统计
	if !lru && table.Flags&TableFlagZipSSize != 0 && d.deps.ZipStats != nil {
		d.deps.ZipStats.EraseIndex(index.ID)
	}

	if index.IsFTS() && table.FTS != nil {
		table.FTS.removeIndex(index)
	}

	index.Cached = false
	if index.AHIRefs() > 0 {
		d.retireIndex(index)
	}
}

// retireIndex 索引已摘除但仍被自适应哈希引用，等待引用清零后释放
func (d *DictSys) retireIndex(index *Index) {
	index.freed = true
	d.freedIndexes[index.ID] = append(d.freedIndexes[index.ID], index)
}

// ReleaseAHIRef 自适应哈希释放对索引的引用，已摘除的索引在引用清零时释放。
// 最后一个引用释放时会获取字典互斥锁，调用者不能持有它
func (d *DictSys) ReleaseAHIRef(index *Index) {
	if index.SearchInfo.Release() > 0 {
		return
	}
	d.Lock()
	defer d.Unlock()
	if index.freed && index.AHIRefs() == 0 {
		d.freeRetired(index)
	}
}

func (d *DictSys) freeRetired(index *Index) {
	retired := d.freedIndexes[index.ID]
	for i, idx := range retired {
		if idx == index {
			retired = append(retired[:i], retired[i+1:]...)
			break
		}
	}
	if len(retired) == 0 {
		delete(d.freedIndexes, index.ID)
	} else {
		d.freedIndexes[index.ID] = retired
	}

	if table := index.Table; table != nil && !table.Cached && !d.hasFreedIndexes(table) {
		logger.Debugf("Released last retired index of dropped table %s", table.Name)
		table.Indexes = nil
	}
}

// FreedIndexes 等待释放的索引
func (d *DictSys) FreedIndexes() []*Index {
	d.assertLocked()
	var out []*Index
	for _, indexes := range d.freedIndexes {
		out = append(out, indexes...)
	}
	return out
}

// IndexCloneIfNeeded 索引被自适应哈希引用时，用副本替换索引，原索引等待引用清零
func (d *DictSys) IndexCloneIfNeeded(index *Index) *Index {
	d.assertLocked()
	if index.AHIRefs() == 0 {
		return index
	}

	table := index.Table
	clone := index.Clone()
	clone.Cached = true
	for i, idx := range table.Indexes {
		if idx == index {
			table.Indexes[i] = clone
			break
		}
	}
	repointForeignIndex(table, index, clone)

	index.Cached = false
	d.retireIndex(index)
	return clone
}

func repointForeignIndex(table *Table, from, to *Index) {
	for _, foreign := range table.ForeignSet {
		if foreign.ForeignIndex == from {
			foreign.ForeignIndex = to
		}
	}
	for _, foreign := range table.ReferencedSet {
		if foreign.ReferencedIndex == from {
			foreign.ReferencedIndex = to
		}
	}
}
