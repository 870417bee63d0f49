package dict

import (
	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
)

// 查找类错误
var (
	ErrTableNotFound   = errors.New("table not found")
	ErrIndexNotFound   = errors.New("index not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrForeignNotFound = errors.New("foreign key not found")
)

// 名称/ID 冲突
var (
	ErrDuplicateTable   = errors.New("table already exists in dictionary cache")
	ErrNameCollision    = errors.New("table name already exists in dictionary cache")
	ErrTablespaceExists = errors.New("tablespace file already exists")
	ErrDuplicateIndex   = errors.New("duplicate index")
)

// 结构与约束错误
var (
	ErrCorruption          = errors.New("data dictionary corruption")
	ErrCannotAddConstraint = errors.New("cannot add foreign key constraint")
	ErrNoReferencedRow     = errors.New("no index found for foreign key")
	ErrTableInaccessible   = errors.New("table is corrupted or unreadable")
	ErrInvalidOnlineStatus = errors.New("invalid online index status transition")
	ErrTempTableIDChange   = errors.New("cannot change id of a temporary table")
)

// 元数据锁
var (
	ErrLockUnavailable = errors.New("metadata lock unavailable")
	ErrTooManyRenames  = errors.New("too many concurrent renames while acquiring metadata lock")
)

// MySQL 服务端错误码
const (
	erNoSuchTable          = 1146
	erTableExists          = 1050
	erDupKeyName           = 1061
	erKeyDoesNotExist      = 1176
	erCannotAddForeign     = 1215
	erTableCorrupt         = 1877
	erLockNowait           = 3572
	erTablespaceExists     = 1813
	erIndexCorrupt         = 1712
	erInternalError        = 1815
	erFKNoIndexParent      = 1822
	erTooManyConcurrentTrx = 1637
)

// ToMySQLError 将字典缓存错误映射为 MySQL 服务端错误
func ToMySQLError(err error) *mysql.MySQLError {
	if err == nil {
		return nil
	}
	var number uint16
	switch errors.Cause(err) {
	case ErrTableNotFound:
		number = erNoSuchTable
	case ErrIndexNotFound, ErrColumnNotFound, ErrForeignNotFound:
		number = erKeyDoesNotExist
	case ErrDuplicateTable, ErrNameCollision:
		number = erTableExists
	case ErrDuplicateIndex:
		number = erDupKeyName
	case ErrTablespaceExists:
		number = erTablespaceExists
	case ErrCannotAddConstraint:
		number = erCannotAddForeign
	case ErrNoReferencedRow:
		number = erFKNoIndexParent
	case ErrCorruption:
		number = erIndexCorrupt
	case ErrTableInaccessible:
		number = erTableCorrupt
	case ErrLockUnavailable:
		number = erLockNowait
	case ErrTooManyRenames:
		number = erTooManyConcurrentTrx
	default:
		number = erInternalError
	}
	return &mysql.MySQLError{Number: number, Message: err.Error()}
}

// IsNotFound 判断是否为查找失败
func IsNotFound(err error) bool {
	switch errors.Cause(err) {
	case ErrTableNotFound, ErrIndexNotFound, ErrColumnNotFound, ErrForeignNotFound:
		return true
	}
	return false
}
