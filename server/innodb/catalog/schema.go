package catalog

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

// ErrBadDefinition 目录文件中的定义无法解析
var ErrBadDefinition = errors.New("bad table definition")

// File 目录文件，每个 [[table]] 是一张表
type File struct {
	Tables []TableDef `toml:"table"`
}

// TableDef 表定义
type TableDef struct {
	ID           int64        `toml:"id"`
	Name         string       `toml:"name"`
	Space        int64        `toml:"space"`
	Compact      bool         `toml:"compact"`
	FilePerTable bool         `toml:"file_per_table"`
	DataDir      string       `toml:"data_dir"`
	Temporary    bool         `toml:"temporary"`
	Encrypted    bool         `toml:"encrypted"`
	Columns      []ColumnDef  `toml:"column"`
	VColumns     []VColumnDef `toml:"vcolumn"`
	Indexes      []IndexDef   `toml:"index"`
	Foreigns     []ForeignDef `toml:"foreign"`
}

// ColumnDef 列定义
type ColumnDef struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Len      int64  `toml:"len"`
	NotNull  bool   `toml:"not_null"`
	Unsigned bool   `toml:"unsigned"`
	Binary   bool   `toml:"binary"`
	Charset  int64  `toml:"charset"`
}

// VColumnDef 虚拟列定义，Base 为依赖的基础列
type VColumnDef struct {
	Name     string   `toml:"name"`
	Type     string   `toml:"type"`
	Len      int64    `toml:"len"`
	NotNull  bool     `toml:"not_null"`
	Unsigned bool     `toml:"unsigned"`
	Base     []string `toml:"base"`
}

func (v VColumnDef) column() ColumnDef {
	return ColumnDef{Name: v.Name, Type: v.Type, Len: v.Len, NotNull: v.NotNull, Unsigned: v.Unsigned}
}

// IndexDef 索引定义。字段写成 "name" 或带前缀长度的 "name(10)"
type IndexDef struct {
	ID          int64    `toml:"id"`
	Name        string   `toml:"name"`
	Clustered   bool     `toml:"clustered"`
	Unique      bool     `toml:"unique"`
	Fulltext    bool     `toml:"fulltext"`
	Spatial     bool     `toml:"spatial"`
	Corrupt     bool     `toml:"corrupt"`
	Fields      []string `toml:"fields"`
	Page        int64    `toml:"page"`
	Status      string   `toml:"status"`
	Uncommitted bool     `toml:"uncommitted"`
}

// ForeignDef 外键定义，属于子表
type ForeignDef struct {
	ID         string   `toml:"id"`
	Columns    []string `toml:"columns"`
	RefTable   string   `toml:"ref_table"`
	RefColumns []string `toml:"ref_columns"`
	OnDelete   string   `toml:"on_delete"`
	OnUpdate   string   `toml:"on_update"`
}

var columnTypes = map[string]uint32{
	"varchar":   dict.DataVarchar,
	"char":      dict.DataChar,
	"binary":    dict.DataFixBinary,
	"varbinary": dict.DataBinary,
	"blob":      dict.DataBlob,
	"text":      dict.DataBlob,
	"int":       dict.DataInt,
	"float":     dict.DataFloat,
	"double":    dict.DataDouble,
	"decimal":   dict.DataDecimal,
	"varmysql":  dict.DataVarMySQL,
	"mysql":     dict.DataMySQL,
	"geometry":  dict.DataGeometry,
	"point":     dict.DataPoint,
	"varpoint":  dict.DataVarPoint,
}

const charsetShift = 16

func (c ColumnDef) types() (mtype, prtype uint32, err error) {
	mtype, ok := columnTypes[strings.ToLower(c.Type)]
	if !ok {
		return 0, 0, errors.WithMessagef(ErrBadDefinition, "column %s: unknown type %q", c.Name, c.Type)
	}
	if c.NotNull {
		prtype |= dict.DataNotNull
	}
	if c.Unsigned {
		prtype |= dict.DataUnsigned
	}
	if c.Binary {
		prtype |= dict.DataBinaryType
	}
	prtype |= uint32(c.Charset) << charsetShift
	return mtype, prtype, nil
}

func (idx IndexDef) typ() uint32 {
	var t uint32
	if idx.Clustered {
		t |= dict.IndexClustered
	}
	if idx.Unique {
		t |= dict.IndexUnique
	}
	if idx.Fulltext {
		t |= dict.IndexFTS
	}
	if idx.Spatial {
		t |= dict.IndexSpatial
	}
	if idx.Corrupt {
		t |= dict.IndexCorrupt
	}
	return t
}

func (idx IndexDef) onlineStatus() (dict.OnlineStatus, error) {
	switch strings.ToLower(idx.Status) {
	case "", "complete":
		return dict.OnlineIndexComplete, nil
	case "creation":
		return dict.OnlineIndexCreation, nil
	case "aborted":
		return dict.OnlineIndexAborted, nil
	case "aborted_dropped":
		return dict.OnlineIndexAbortedDropped, nil
	}
	return 0, errors.WithMessagef(ErrBadDefinition, "index %s: unknown status %q", idx.Name, idx.Status)
}

// parseField 解析 "name(10)" 形式的索引字段
func parseField(field string) (string, uint32, error) {
	open := strings.IndexByte(field, '(')
	if open < 0 {
		return strings.TrimSpace(field), 0, nil
	}
	if !strings.HasSuffix(field, ")") {
		return "", 0, errors.WithMessagef(ErrBadDefinition, "index field %q", field)
	}
	var prefix uint32
	for _, ch := range field[open+1 : len(field)-1] {
		if ch < '0' || ch > '9' {
			return "", 0, errors.WithMessagef(ErrBadDefinition, "index field %q", field)
		}
		prefix = prefix*10 + uint32(ch-'0')
	}
	return strings.TrimSpace(field[:open]), prefix, nil
}

func actionFlags(onDelete, onUpdate string) (uint32, error) {
	var typ uint32
	switch strings.ToLower(onDelete) {
	case "", "restrict":
	case "cascade":
		typ |= dict.ForeignDeleteCascade
	case "set null":
		typ |= dict.ForeignDeleteSetNull
	case "no action":
		typ |= dict.ForeignDeleteNoAction
	default:
		return 0, errors.WithMessagef(ErrBadDefinition, "ON DELETE %q", onDelete)
	}
	switch strings.ToLower(onUpdate) {
	case "", "restrict":
	case "cascade":
		typ |= dict.ForeignUpdateCascade
	case "set null":
		typ |= dict.ForeignUpdateSetNull
	case "no action":
		typ |= dict.ForeignUpdateNoAction
	default:
		return 0, errors.WithMessagef(ErrBadDefinition, "ON UPDATE %q", onUpdate)
	}
	return typ, nil
}
