package dict

// 列的主类型 (mtype)
const (
	DataMissing   uint32 = 0
	DataVarchar   uint32 = 1
	DataChar      uint32 = 2
	DataFixBinary uint32 = 3
	DataBinary    uint32 = 4
	DataBlob      uint32 = 5
	DataInt       uint32 = 6
	DataSysChild  uint32 = 7
	DataSys       uint32 = 8
	DataFloat     uint32 = 9
	DataDouble    uint32 = 10
	DataDecimal   uint32 = 11
	DataVarMySQL  uint32 = 12
	DataMySQL     uint32 = 13
	DataGeometry  uint32 = 14
	DataPoint     uint32 = 15
	DataVarPoint  uint32 = 16
)

// 列的精确类型 (prtype) 标志位
const (
	DataMySQLTypeMask   uint32 = 255
	DataNotNull         uint32 = 256
	DataUnsigned        uint32 = 512
	DataBinaryType      uint32 = 1024
	DataGisMBR          uint32 = 2048
	DataLongTrueVarchar uint32 = 4096
	DataVirtual         uint32 = 8192
	DataMultiValue      uint32 = 16384

	dataCharsetShift = 16
	dataCollMask     = 32767
)

// 系统列，存放在 prtype 的低字节
const (
	DataRowID   uint32 = 0
	DataTrxID   uint32 = 1
	DataRollPtr uint32 = 2

	DataNSysCols = 3

	DataRowIDLen   uint32 = 6
	DataTrxIDLen   uint32 = 6
	DataRollPtrLen uint32 = 7
)

// 系统列名
const (
	ColNameRowID   = "DB_ROW_ID"
	ColNameTrxID   = "DB_TRX_ID"
	ColNameRollPtr = "DB_ROLL_PTR"
)

// 索引类型标志位
const (
	IndexClustered  uint32 = 1
	IndexUnique     uint32 = 2
	IndexIbuf       uint32 = 8
	IndexCorrupt    uint32 = 16
	IndexFTS        uint32 = 32
	IndexSpatial    uint32 = 64
	IndexVirtual    uint32 = 128
	IndexSDI        uint32 = 256
	IndexMultiValue uint32 = 512
)

// 外键动作标志位
const (
	ForeignDeleteCascade  uint32 = 1
	ForeignDeleteSetNull  uint32 = 2
	ForeignUpdateCascade  uint32 = 4
	ForeignUpdateSetNull  uint32 = 8
	ForeignDeleteNoAction uint32 = 16
	ForeignUpdateNoAction uint32 = 32
)

// 表标志
const (
	TableFlagCompact    uint32 = 1
	TableFlagZipSSize   uint32 = 0x1e
	TableFlagAtomicBlob uint32 = 0x20
	TableFlagDataDir    uint32 = 0x40
	TableFlagShared     uint32 = 0x80

	TableFlag2Temporary       uint32 = 1
	TableFlag2DocID           uint32 = 2
	TableFlag2FTS             uint32 = 4
	TableFlag2UseFilePerTable uint32 = 16
	TableFlag2Discarded       uint32 = 32
	TableFlag2Encryption      uint32 = 64
)

// 索引合并阈值（页填充百分比）
const (
	IndexMergeThresholdDefault uint32 = 50
	IndexMergeThresholdMin     uint32 = 1
	IndexMergeThresholdMax     uint32 = 50
)

// 索引字段数与前缀长度上限
const (
	MaxIndexFields      = 16
	MaxIndexColLen      = 3072
	MaxFixedTrxIDOffset = 1<<12 - 1
)

// OnlineStatus 在线建索引的状态
type OnlineStatus int

const (
	// OnlineIndexComplete 索引已完整构建
	OnlineIndexComplete OnlineStatus = iota
	// OnlineIndexCreation 正在构建
	OnlineIndexCreation
	// OnlineIndexAborted 构建失败，等待清理
	OnlineIndexAborted
	// OnlineIndexAbortedDropped 构建失败且已删除索引树
	OnlineIndexAbortedDropped
)

func (s OnlineStatus) String() string {
	switch s {
	case OnlineIndexComplete:
		return "COMPLETE"
	case OnlineIndexCreation:
		return "CREATION"
	case OnlineIndexAborted:
		return "ABORTED"
	case OnlineIndexAbortedDropped:
		return "ABORTED_DROPPED"
	}
	return "UNKNOWN"
}

// canTransitTo 在线状态只能前进：CREATION->COMPLETE、CREATION->ABORTED->ABORTED_DROPPED
func (s OnlineStatus) canTransitTo(next OnlineStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case OnlineIndexCreation:
		return next == OnlineIndexComplete || next == OnlineIndexAborted
	case OnlineIndexAborted:
		return next == OnlineIndexAbortedDropped
	}
	return false
}

// TableOp 按 ID 打开表时的操作类型
type TableOp int

const (
	// TableOpNormal 普通打开，缓存未命中时从持久化字典加载
	TableOpNormal TableOp = iota
	// TableOpDropOrphan 删除孤儿表
	TableOpDropOrphan
	// TableOpOpenOnlyIfCached 只查缓存
	TableOpOpenOnlyIfCached
	// TableOpLoadTablespace 加载时同时打开表空间
	TableOpLoadTablespace
)

// IgnoreErr 打开/加载表时可以忽略的错误
type IgnoreErr uint32

const (
	IgnoreNone        IgnoreErr = 0
	IgnoreIndexRoot   IgnoreErr = 1
	IgnoreCorrupt     IgnoreErr = 2
	IgnoreFKNoKey     IgnoreErr = 4
	IgnoreRecoverLock IgnoreErr = 8
	IgnoreAll         IgnoreErr = 0xFFFF
)

// Has 判断是否包含某个忽略位
func (e IgnoreErr) Has(bit IgnoreErr) bool {
	return e&bit != 0
}

// CheckMode 重复索引检查模式
type CheckMode int

const (
	CheckAllComplete CheckMode = iota
	CheckAbortedOK
	CheckPartialOK
)
