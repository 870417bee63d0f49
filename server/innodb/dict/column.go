package dict

import "strings"

// Column 表的列定义
type Column struct {
	Name string
	// Ind 在 Table.Cols（虚拟列为 Table.VCols）中的位置
	Ind      int
	Mtype    uint32
	Prtype   uint32
	Len      uint32
	MbMinLen uint32
	MbMaxLen uint32

	// OrdPart 是否作为某个索引唯一键前缀的一部分
	OrdPart bool
	// MaxPrefix 该列被索引时的最大前缀长度，0 表示有完整列索引
	MaxPrefix uint32

	// BaseCols 虚拟列依赖的基础列
	BaseCols []*Column
}

// IsVirtual 是否为虚拟列
func (c *Column) IsVirtual() bool {
	return c.Prtype&DataVirtual != 0
}

// IsSystem 是否为系统列 DB_ROW_ID/DB_TRX_ID/DB_ROLL_PTR
func (c *Column) IsSystem() bool {
	return c.Mtype == DataSys
}

// SysType 系统列的类型
func (c *Column) SysType() uint32 {
	return c.Prtype & DataMySQLTypeMask
}

// IsNullable 列是否可为空
func (c *Column) IsNullable() bool {
	return c.Prtype&DataNotNull == 0
}

// IsUnsigned 是否为无符号整数
func (c *Column) IsUnsigned() bool {
	return c.Prtype&DataUnsigned != 0
}

// CharsetColl 字符集校对规则编号
func (c *Column) CharsetColl() uint32 {
	return (c.Prtype >> dataCharsetShift) & dataCollMask
}

func isStringType(mtype uint32) bool {
	return mtype <= DataBlob || mtype == DataMySQL || mtype == DataVarMySQL
}

// IsBinaryString 是否为二进制字符串类型
func (c *Column) IsBinaryString() bool {
	return c.Mtype == DataFixBinary || c.Mtype == DataBinary ||
		(c.Mtype == DataBlob && c.Prtype&DataBinaryType != 0)
}

// IsNonBinaryString 是否为非二进制字符串类型
func (c *Column) IsNonBinaryString() bool {
	return isStringType(c.Mtype) && !c.IsBinaryString()
}

// FixedSize 列的定长字节数，变长列返回 0
func (c *Column) FixedSize(compact bool) uint32 {
	switch c.Mtype {
	case DataSys:
		switch c.SysType() {
		case DataRowID:
			return DataRowIDLen
		case DataTrxID:
			return DataTrxIDLen
		case DataRollPtr:
			return DataRollPtrLen
		}
		return c.Len
	case DataChar, DataFixBinary, DataInt, DataFloat, DataDouble, DataPoint:
		return c.Len
	case DataMySQL:
		if c.Prtype&DataBinaryType != 0 {
			return c.Len
		}
		if !compact {
			return c.Len
		}
		if c.MbMinLen == c.MbMaxLen {
			return c.Len
		}
		// 变长字符集的 CHAR 在紧凑格式下按变长存储
		return 0
	}
	return 0
}

// ColsAreEqual 判断两列在外键约束意义下类型是否兼容
func ColsAreEqual(c1, c2 *Column, checkCharsets bool) bool {
	if c1.IsNonBinaryString() && c2.IsNonBinaryString() {
		if checkCharsets {
			return c1.CharsetColl() == c2.CharsetColl()
		}
		return true
	}

	if c1.IsBinaryString() && c2.IsBinaryString() {
		return true
	}

	if c1.Mtype != c2.Mtype {
		return false
	}

	if c1.Mtype == DataInt && c1.IsUnsigned() != c2.IsUnsigned() {
		return false
	}

	return c1.Mtype != DataInt || c1.Len == c2.Len
}

// sysColumnName 系统列的列名
func sysColumnName(sysType uint32) string {
	switch sysType {
	case DataRowID:
		return ColNameRowID
	case DataTrxID:
		return ColNameTrxID
	case DataRollPtr:
		return ColNameRollPtr
	}
	return ""
}

// columnNameEqual 列名比较，普通列不区分大小写
func columnNameEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
