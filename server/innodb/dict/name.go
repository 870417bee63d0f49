package dict

import "strings"

const (
	tmpFilePrefix = "#sql"
	partSeparator = "#"
	// foreignIDSuffix 自动生成的外键 ID 形如 db/tbl_ibfk_N
	foreignIDSuffix = "_ibfk_"
)

// ParseTableName 拆分 db/table 形式的表名
func ParseTableName(name string) (db, table string, ok bool) {
	pos := strings.IndexByte(name, '/')
	if pos <= 0 || pos == len(name)-1 {
		return "", name, false
	}
	return name[:pos], name[pos+1:], true
}

// DBName 返回表名的数据库部分
func DBName(name string) string {
	db, _, _ := ParseTableName(name)
	return db
}

// RemoveDBName 去掉 db/ 前缀
func RemoveDBName(name string) string {
	if pos := strings.IndexByte(name, '/'); pos >= 0 {
		return name[pos+1:]
	}
	return name
}

// IsTempTableName 是否为 DDL 中间表 #sql...
func IsTempTableName(table string) bool {
	return strings.HasPrefix(RemoveDBName(table), tmpFilePrefix)
}

// StripPartition 去掉分区表名的 #p# 后缀，得到元数据锁使用的表名
func StripPartition(table string) string {
	if pos := strings.Index(table, partSeparator); pos > 0 {
		return table[:pos]
	}
	return table
}

// lookupName 按 lower_case_table_names 计算哈希查找键
func lookupName(name string, lowerCaseTableNames int) string {
	if lowerCaseTableNames == 0 {
		return name
	}
	return strings.ToLower(name)
}
