package dict

import (
	"sort"
	"strings"
)

// Foreign 外键约束描述
type Foreign struct {
	ID      string
	Type    uint32
	NFields int

	ForeignTableName       string
	ForeignTableNameLookup string
	ForeignTable           *Table
	ForeignColNames        []string
	ForeignIndex           *Index

	ReferencedTableName       string
	ReferencedTableNameLookup string
	ReferencedTable           *Table
	ReferencedColNames        []string
	ReferencedIndex           *Index

	// VCols 依赖外键列的虚拟列
	VCols map[*Column]struct{}
}

// NewForeign 创建外键描述，两侧列数必须相同
func NewForeign(id, foreignTable, referencedTable string, foreignCols, referencedCols []string, typ uint32) *Foreign {
	if len(foreignCols) != len(referencedCols) {
		panic("foreign key column count mismatch")
	}
	return &Foreign{
		ID:                  id,
		Type:                typ,
		NFields:             len(foreignCols),
		ForeignTableName:    foreignTable,
		ReferencedTableName: referencedTable,
		ForeignColNames:     foreignCols,
		ReferencedColNames:  referencedCols,
	}
}

// SetLookupNames 按 lower_case_table_names 计算查找用表名
func (foreign *Foreign) SetLookupNames(lowerCaseTableNames int) {
	foreign.ForeignTableNameLookup = lookupName(foreign.ForeignTableName, lowerCaseTableNames)
	foreign.ReferencedTableNameLookup = lookupName(foreign.ReferencedTableName, lowerCaseTableNames)
}

// IsGeneratedID 外键 ID 是否由表名自动生成
func (foreign *Foreign) IsGeneratedID() bool {
	return strings.HasPrefix(foreign.ID, foreign.ForeignTableName+foreignIDSuffix)
}

// fillVColSet 收集依赖外键列的虚拟列
func (foreign *Foreign) fillVColSet() {
	table := foreign.ForeignTable
	if table == nil || foreign.ForeignIndex == nil {
		return
	}
	for _, vcol := range table.VCols {
		for _, base := range vcol.BaseCols {
			if foreign.coversCol(base) {
				if foreign.VCols == nil {
					foreign.VCols = make(map[*Column]struct{})
				}
				foreign.VCols[vcol] = struct{}{}
				break
			}
		}
	}
}

func (foreign *Foreign) coversCol(col *Column) bool {
	index := foreign.ForeignIndex
	for i := 0; i < foreign.NFields && i < index.NFields(); i++ {
		if index.Fields[i].Col == col {
			return true
		}
	}
	return false
}

// ForeignSet 以外键 ID 为键的集合
type ForeignSet map[string]*Foreign

// NewForeignSet 创建外键集合
func NewForeignSet() ForeignSet {
	return make(ForeignSet)
}

// Add 插入外键，ID 已存在时返回 false
func (s ForeignSet) Add(foreign *Foreign) bool {
	if _, ok := s[foreign.ID]; ok {
		return false
	}
	s[foreign.ID] = foreign
	return true
}

// Remove 按 ID 删除外键
func (s ForeignSet) Remove(foreign *Foreign) bool {
	if _, ok := s[foreign.ID]; !ok {
		return false
	}
	delete(s, foreign.ID)
	return true
}

// Find 按 ID 查找
func (s ForeignSet) Find(id string) *Foreign {
	return s[id]
}

// Contains 集合中是否有同一个外键对象
func (s ForeignSet) Contains(foreign *Foreign) bool {
	return s[foreign.ID] == foreign
}

// Len 外键数
func (s ForeignSet) Len() int {
	return len(s)
}

// Sorted 按 ID 排序返回
func (s ForeignSet) Sorted() []*Foreign {
	out := make([]*Foreign, 0, len(s))
	for _, f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
