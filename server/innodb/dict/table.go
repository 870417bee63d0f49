package dict

import (
	"container/list"
	"fmt"
	"sync/atomic"
)

// Table 数据字典缓存中的表描述
type Table struct {
	ID      uint64
	Name    string
	SpaceID uint32
	Flags   uint32
	Flags2  uint32
	// DataDirPath DATA DIRECTORY 指定的远程路径
	DataDirPath string

	Cols    []*Column
	VCols   []*Column
	Indexes []*Index

	ForeignSet    ForeignSet
	ReferencedSet ForeignSet
	FTS           *FTS

	Cached           bool
	Corrupted        bool
	FileUnreadable   bool
	Encrypted        bool
	DropAborted      bool
	StatsInitialized bool

	refCount     atomic.Int64
	canBeEvicted bool
	// pinnedByForeign 因外键关系被移出 LRU
	pinnedByForeign bool
	sysColsAdded    bool

	lruElem   *list.Element
	renameGen uint64
	lookupKey string
}

// NewTable 创建表描述
func NewTable(name string, spaceID uint32, nCols int, flags, flags2 uint32) *Table {
	return &Table{
		Name:          name,
		SpaceID:       spaceID,
		Flags:         flags,
		Flags2:        flags2,
		Cols:          make([]*Column, 0, nCols+DataNSysCols),
		ForeignSet:    NewForeignSet(),
		ReferencedSet: NewForeignSet(),
	}
}

// AddCol 追加一个普通列，必须在系统列之前调用
func (table *Table) AddCol(name string, mtype, prtype, length uint32) *Column {
	if table.sysColsAdded {
		panic(fmt.Sprintf("table %s: user column %s added after system columns", table.Name, name))
	}
	col := &Column{
		Name:     name,
		Ind:      len(table.Cols),
		Mtype:    mtype,
		Prtype:   prtype,
		Len:      length,
		MbMinLen: 1,
		MbMaxLen: 1,
	}
	table.Cols = append(table.Cols, col)
	return col
}

// AddVirtualCol 追加一个虚拟列，单独编号
func (table *Table) AddVirtualCol(name string, mtype, prtype, length uint32, base []*Column) *Column {
	col := &Column{
		Name:     name,
		Ind:      len(table.VCols),
		Mtype:    mtype,
		Prtype:   prtype | DataVirtual,
		Len:      length,
		MbMinLen: 1,
		MbMaxLen: 1,
		BaseCols: base,
	}
	table.VCols = append(table.VCols, col)
	return col
}

// AddSystemColumns 在用户列之后追加 DB_ROW_ID、DB_TRX_ID、DB_ROLL_PTR
func (table *Table) AddSystemColumns() {
	if table.sysColsAdded {
		return
	}
	table.AddCol(ColNameRowID, DataSys, DataRowID|DataNotNull, DataRowIDLen)
	table.AddCol(ColNameTrxID, DataSys, DataTrxID|DataNotNull, DataTrxIDLen)
	table.AddCol(ColNameRollPtr, DataSys, DataRollPtr|DataNotNull, DataRollPtrLen)
	table.sysColsAdded = true
}

// NUserCols 用户列数（不含系统列）
func (table *Table) NUserCols() int {
	if table.sysColsAdded {
		return len(table.Cols) - DataNSysCols
	}
	return len(table.Cols)
}

// SysCol 返回系统列
func (table *Table) SysCol(sysType uint32) *Column {
	if !table.sysColsAdded {
		return nil
	}
	return table.Cols[len(table.Cols)-DataNSysCols+int(sysType)]
}

// GetColByName 按名字查找普通列（不区分大小写）
func (table *Table) GetColByName(name string) *Column {
	for _, col := range table.Cols {
		if columnNameEqual(col.Name, name) {
			return col
		}
	}
	return nil
}

// HasColumn 返回列的位置，不存在时返回 -1
func (table *Table) HasColumn(name string) int {
	if col := table.GetColByName(name); col != nil {
		return col.Ind
	}
	return -1
}

// DBName 数据库名
func (table *Table) DBName() string {
	return DBName(table.Name)
}

// IsTemporary 是否为临时表
func (table *Table) IsTemporary() bool {
	return table.Flags2&TableFlag2Temporary != 0
}

// IsCompact 是否为紧凑行格式
func (table *Table) IsCompact() bool {
	return table.Flags&TableFlagCompact != 0
}

// UsesFilePerTable 是否使用独立表空间
func (table *Table) UsesFilePerTable() bool {
	return table.Flags2&TableFlag2UseFilePerTable != 0 && table.Flags&TableFlagShared == 0
}

// IsDiscarded 表空间是否已被 DISCARD
func (table *Table) IsDiscarded() bool {
	return table.Flags2&TableFlag2Discarded != 0
}

// IsReadable 数据文件可读且未加密失败
func (table *Table) IsReadable() bool {
	return !table.FileUnreadable
}

// FirstIndex 聚簇索引
func (table *Table) FirstIndex() *Index {
	if len(table.Indexes) == 0 {
		return nil
	}
	return table.Indexes[0]
}

// NextIndex 返回 index 之后的索引
func (table *Table) NextIndex(index *Index) *Index {
	for i, idx := range table.Indexes {
		if idx == index && i+1 < len(table.Indexes) {
			return table.Indexes[i+1]
		}
	}
	return nil
}

// GetIndexOnName 按名字查找索引，committed 为 true 时只找已提交的索引
func (table *Table) GetIndexOnName(name string, committed bool) *Index {
	for _, index := range table.Indexes {
		if index.Name == name && (!committed || index.IsCommitted()) {
			return index
		}
	}
	return nil
}

// FindIndexOnID 按 ID 查找索引
func (table *Table) FindIndexOnID(id uint64) *Index {
	for _, index := range table.Indexes {
		if index.ID == id {
			return index
		}
	}
	return nil
}

// ColInClusteredKey 列是否属于聚簇索引的唯一键
func (table *Table) ColInClusteredKey(n int) bool {
	clust := table.FirstIndex()
	if clust == nil {
		return false
	}
	col := table.Cols[n]
	for i := 0; i < clust.NUniq; i++ {
		if clust.Fields[i].Col == col {
			return true
		}
	}
	return false
}

// HasFTSIndex 表上是否有全文索引
func (table *Table) HasFTSIndex() bool {
	return table.Flags2&TableFlag2FTS != 0
}

// IsReferencedByForeignKey 是否被其他表的外键引用
func (table *Table) IsReferencedByForeignKey() bool {
	return table.ReferencedSet.Len() > 0
}

// RefCount 当前持有者数量
func (table *Table) RefCount() int64 {
	return table.refCount.Load()
}

// IsEvictable 是否在 LRU 链表上
func (table *Table) IsEvictable() bool {
	return table.canBeEvicted
}

// RenameGeneration 表名变更的次数
func (table *Table) RenameGeneration() uint64 {
	return atomic.LoadUint64(&table.renameGen)
}

// hasForeignKeys 表是否参与任何外键关系
func (table *Table) hasForeignKeys() bool {
	return table.ForeignSet.Len() > 0 || table.ReferencedSet.Len() > 0
}

func (table *Table) String() string {
	return fmt.Sprintf("table %s (id %d)", table.Name, table.ID)
}
