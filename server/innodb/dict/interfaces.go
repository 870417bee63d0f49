package dict

import "context"

// Loader 从持久化数据字典加载表定义。
// 调用时已持有字典互斥锁，加载器负责通过 AddTable/IndexAddToCache/ForeignAddToCache
// 把表放入缓存，并返回缓存中的表
type Loader interface {
	LoadTableByName(d *DictSys, name string, ignore IgnoreErr) (*Table, error)
	LoadTableByID(d *DictSys, id uint64, op TableOp) (*Table, error)
}

// MDLKey 元数据锁的对象名
type MDLKey struct {
	DB    string
	Table string
}

func (k MDLKey) String() string {
	return k.DB + "/" + k.Table
}

// MDLTicket 已授予的元数据锁
type MDLTicket interface {
	Key() MDLKey
}

// MDLContext 会话级元数据锁上下文。
// nowait 为 true 时锁不可用立即返回 ErrLockUnavailable
type MDLContext interface {
	AcquireShared(ctx context.Context, key MDLKey, nowait bool) (MDLTicket, error)
	Release(ticket MDLTicket)
}

// LockSys 锁系统，用于判断表上是否还有行锁或表锁
type LockSys interface {
	TableHasLocks(tableID uint64) bool
}

// IndexDropper 删除在线建索引失败留下的孤儿索引
type IndexDropper interface {
	// DropIndex 释放索引树
	DropIndex(table *Table, index *Index) error
	// DropOrphanIndexes 从持久化字典中删除表的孤儿索引记录
	DropOrphanIndexes(tableID uint64) error
}

// TablespaceFiles 独立表空间文件操作
type TablespaceFiles interface {
	// RenameTablespace 重命名 .ibd 文件，dataDir 非空时同时更新 .isl 链接文件
	RenameTablespace(spaceID uint32, oldName, newName, dataDir string) error
}

// PageZipStats 按索引统计的页压缩信息
type PageZipStats interface {
	EraseIndex(indexID uint64)
}
