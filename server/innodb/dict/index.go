package dict

import (
	"fmt"
	"sync/atomic"

	"github.com/juju/errors"
)

// Field 索引字段
type Field struct {
	Col  *Column
	Name string
	// PrefixLen 前缀索引长度，0 表示完整列
	PrefixLen uint32
	// FixedLen 字段在记录中的定长，变长为 0
	FixedLen  uint32
	Ascending bool
}

// SearchInfo 自适应哈希索引对索引页的引用计数
type SearchInfo struct {
	refCount atomic.Int64
}

// AddRef 增加一个自适应哈希引用
func (s *SearchInfo) AddRef() {
	s.refCount.Add(1)
}

// Release 释放一个自适应哈希引用，返回剩余引用数
func (s *SearchInfo) Release() int64 {
	n := s.refCount.Add(-1)
	if n < 0 {
		panic("adaptive hash reference count underflow")
	}
	return n
}

// RefCount 当前自适应哈希引用数
func (s *SearchInfo) RefCount() int64 {
	return s.refCount.Load()
}

// Index 索引描述
type Index struct {
	ID        uint64
	Name      string
	TableName string
	// Table 所属表，非拥有引用
	Table   *Table
	SpaceID uint32
	Page    uint32
	Type    uint32

	Fields []*Field
	// NUserDefinedCols 用户声明的字段数
	NUserDefinedCols int
	// NUniq 确定唯一性所需的字段数
	NUniq     int
	NNullable int
	// TrxIDOffset DB_TRX_ID 在聚簇索引记录中的固定偏移，0 表示不固定
	TrxIDOffset    uint32
	MergeThreshold uint32

	Cached      bool
	ToBeDropped bool
	Uncommitted bool

	onlineStatus OnlineStatus
	SearchInfo   *SearchInfo
	ZipPad       *ZipPad

	// freed 已从表中摘除、等待自适应哈希引用清零
	freed bool
}

// NewIndex 创建用户声明的索引草稿
func NewIndex(tableName, name string, spaceID uint32, typ uint32, nFields int) *Index {
	return &Index{
		Name:           name,
		TableName:      tableName,
		SpaceID:        spaceID,
		Type:           typ,
		Fields:         make([]*Field, 0, nFields),
		MergeThreshold: IndexMergeThresholdDefault,
		SearchInfo:     &SearchInfo{},
		ZipPad:         &ZipPad{},
	}
}

// AddField 向索引草稿追加按名字引用的字段
func (index *Index) AddField(name string, prefixLen uint32) {
	index.Fields = append(index.Fields, &Field{
		Name:      name,
		PrefixLen: prefixLen,
		Ascending: true,
	})
	index.NUserDefinedCols = len(index.Fields)
}

// NFields 字段数
func (index *Index) NFields() int {
	return len(index.Fields)
}

// GetNthField 第 n 个字段
func (index *Index) GetNthField(n int) *Field {
	return index.Fields[n]
}

// IsClustered 是否为聚簇索引
func (index *Index) IsClustered() bool {
	return index.Type&IndexClustered != 0
}

// IsUnique 是否为唯一索引
func (index *Index) IsUnique() bool {
	return index.Type&IndexUnique != 0
}

// IsFTS 是否为全文索引
func (index *Index) IsFTS() bool {
	return index.Type&IndexFTS != 0
}

// IsSpatial 是否为空间索引
func (index *Index) IsSpatial() bool {
	return index.Type&IndexSpatial != 0
}

// IsVirtual 是否包含虚拟列
func (index *Index) IsVirtual() bool {
	return index.Type&IndexVirtual != 0
}

// IsCorrupted 索引或其所在表被标记为损坏
func (index *Index) IsCorrupted() bool {
	if index.Type&IndexCorrupt != 0 {
		return true
	}
	return index.Table != nil && index.Table.Corrupted
}

// IsCommitted 创建索引的事务是否已提交
func (index *Index) IsCommitted() bool {
	return !index.Uncommitted
}

// OnlineStatus 在线构建状态
func (index *Index) OnlineStatus() OnlineStatus {
	return index.onlineStatus
}

// SetOnlineStatus 修改在线构建状态。
// 未加入缓存的草稿可以设置任意初始状态，缓存中的索引只允许合法的状态迁移
func (index *Index) SetOnlineStatus(status OnlineStatus) error {
	if index.Cached && !index.onlineStatus.canTransitTo(status) {
		return errors.Annotatef(ErrInvalidOnlineStatus, "index %s: %v -> %v",
			index.Name, index.onlineStatus, status)
	}
	index.onlineStatus = status
	return nil
}

// IsOnlineDDL 索引是否处于在线构建或失败状态
func (index *Index) IsOnlineDDL() bool {
	return index.onlineStatus != OnlineIndexComplete
}

// IsFreed 索引是否已从表摘除、等待释放
func (index *Index) IsFreed() bool {
	return index.freed
}

// AHIRefs 自适应哈希索引的引用数
func (index *Index) AHIRefs() int64 {
	if index.SearchInfo == nil {
		return 0
	}
	return index.SearchInfo.RefCount()
}

// GetNthFieldPos 查找引用 col 的字段位置，inclPrefix 为 false 时跳过前缀字段。
// 找不到返回 -1
func (index *Index) GetNthFieldPos(col *Column, inclPrefix bool) int {
	for pos, field := range index.Fields {
		if field.Col == col && (inclPrefix || field.PrefixLen == 0) {
			return pos
		}
	}
	return -1
}

// ContainsColOrPrefix 索引是否包含该列或其前缀；聚簇索引包含所有列
func (index *Index) ContainsColOrPrefix(col *Column) bool {
	if index.IsClustered() {
		return true
	}
	return index.GetNthFieldPos(col, true) >= 0
}

// Clone 复制索引描述，字段引用同一组列，自适应哈希引用从零开始
func (index *Index) Clone() *Index {
	clone := *index
	clone.Fields = make([]*Field, len(index.Fields))
	for i, f := range index.Fields {
		field := *f
		clone.Fields[i] = &field
	}
	clone.SearchInfo = &SearchInfo{}
	if index.ZipPad != nil {
		clone.ZipPad = index.ZipPad.Clone()
	}
	clone.freed = false
	return &clone
}

func (index *Index) String() string {
	return fmt.Sprintf("index %s of table %s", index.Name, index.TableName)
}
