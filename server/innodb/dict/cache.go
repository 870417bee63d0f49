package dict

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gxsync "github.com/dubbogo/gost/sync"
	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/latch"
)

const (
	// poolPerTableHash 每个哈希槽对应的缓冲池字节数 / 字长
	poolPerTableHash = 512
	wordSize         = 8
)

// Config 数据字典缓存配置
type Config struct {
	BufferPoolSize         int64
	PageSize               int
	LowerCaseTableNames    int
	StatsPersistent        bool
	FatalSemaphoreWait     time.Duration
	ZipFailureThresholdPct int
	ZipPadMaxPct           int
	MaxRenameRetries       int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BufferPoolSize:         128 << 20,
		PageSize:               16384,
		StatsPersistent:        true,
		FatalSemaphoreWait:     latch.DefaultFatalWait,
		ZipFailureThresholdPct: 5,
		ZipPadMaxPct:           50,
		MaxRenameRetries:       64,
	}
}

// Deps 字典缓存依赖的外部组件，均可为 nil
type Deps struct {
	Loader   Loader
	LockSys  LockSys
	Dropper  IndexDropper
	Files    TablespaceFiles
	ZipStats PageZipStats
}

// Stats 字典缓存计数器
type Stats struct {
	Hits       atomic.Uint64
	Misses     atomic.Uint64
	Evicted    atomic.Uint64
	MDLRetries atomic.Uint64
	Renames    atomic.Uint64
}

// StatsSnapshot 计数器快照
type StatsSnapshot struct {
	Hits       uint64
	Misses     uint64
	Evicted    uint64
	MDLRetries uint64
	Renames    uint64
	Tables     int
	LRU        int
	NonLRU     int
	Freed      int
}

// DictSys 数据字典缓存
type DictSys struct {
	cfg  Config
	deps Deps

	// latch 粗粒度读写锁，DDL 持有写锁，DML 持有读锁
	latch *latch.Latch
	// mutex 保护哈希表、链表以及表和索引的可变字段
	mutex *latch.WatchedMutex

	tableHash   *hashTable
	tableIDHash *hashTable
	tempIDHash  *hashTable

	lru    *list.List
	nonLRU *list.List

	// freedIndexes 已摘除但仍被自适应哈希引用的索引
	freedIndexes map[uint64][]*Index

	taskPool gxsync.GenericTaskPool
	bgWG     sync.WaitGroup

	fkErrMu     sync.Mutex
	latestFKErr string

	stats Stats
}

// NewDictSys 创建数据字典缓存
func NewDictSys(cfg Config, deps Deps) *DictSys {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.MaxRenameRetries <= 0 {
		cfg.MaxRenameRetries = DefaultConfig().MaxRenameRetries
	}
	nCells := hashCells(cfg.BufferPoolSize)
	d := &DictSys{
		cfg:          cfg,
		deps:         deps,
		latch:        latch.NewNamedLatch("dict_operation_lock"),
		mutex:        latch.NewWatchedMutex("dict_sys", cfg.FatalSemaphoreWait),
		tableHash:    newHashTable(nCells),
		tableIDHash:  newHashTable(nCells),
		tempIDHash:   newHashTable(nCells),
		lru:          list.New(),
		nonLRU:       list.New(),
		freedIndexes: make(map[uint64][]*Index),
		taskPool:     gxsync.NewTaskPoolSimple(0),
	}
	return d
}

func hashCells(bufferPoolSize int64) uint64 {
	if bufferPoolSize <= 0 {
		return 1
	}
	return uint64(bufferPoolSize) / (poolPerTableHash * wordSize)
}

// Config 返回当前配置
func (d *DictSys) Config() Config {
	return d.cfg
}

// Latch 返回粗粒度读写锁
func (d *DictSys) Latch() *latch.Latch {
	return d.latch
}

// Mutex 返回字典互斥锁
func (d *DictSys) Mutex() *latch.WatchedMutex {
	return d.mutex
}

// Lock 获取字典互斥锁
func (d *DictSys) Lock() {
	d.mutex.Lock()
}

// Unlock 释放字典互斥锁
func (d *DictSys) Unlock() {
	d.mutex.Unlock()
}

// LockExclusive DDL 入口，先持有写锁再获取互斥锁
func (d *DictSys) LockExclusive() {
	d.latch.Lock()
	d.mutex.Lock()
}

// UnlockExclusive 与 LockExclusive 配对
func (d *DictSys) UnlockExclusive() {
	d.mutex.Unlock()
	d.latch.Unlock()
}

// IsLocked 字典互斥锁是否被持有
func (d *DictSys) IsLocked() bool {
	return d.mutex.IsLocked()
}

func (d *DictSys) assertLocked() {
	if !d.mutex.IsLocked() {
		panic("dict_sys mutex is not held")
	}
}

// Stats 返回计数器快照
func (d *DictSys) Stats() StatsSnapshot {
	s := StatsSnapshot{
		Hits:       d.stats.Hits.Load(),
		Misses:     d.stats.Misses.Load(),
		Evicted:    d.stats.Evicted.Load(),
		MDLRetries: d.stats.MDLRetries.Load(),
		Renames:    d.stats.Renames.Load(),
	}
	d.Lock()
	s.Tables = d.tableHash.count()
	s.LRU = d.lru.Len()
	s.NonLRU = d.nonLRU.Len()
	for _, indexes := range d.freedIndexes {
		s.Freed += len(indexes)
	}
	d.Unlock()
	return s
}

func (d *DictSys) idHashFor(table *Table) *hashTable {
	if table.IsTemporary() {
		return d.tempIDHash
	}
	return d.tableIDHash
}

func (d *DictSys) findByName(name string) *Table {
	key := lookupName(name, d.cfg.LowerCaseTableNames)
	return d.tableHash.search(foldName(key), func(t *Table) bool {
		return t.lookupKey == key
	})
}

func (d *DictSys) findByID(id uint64) *Table {
	match := func(t *Table) bool { return t.ID == id }
	if t := d.tableIDHash.search(foldID(id), match); t != nil {
		return t
	}
	return d.tempIDHash.search(foldID(id), match)
}

// AddTable 把表放入缓存，同名或同 ID 的表已存在属于程序错误
func (d *DictSys) AddTable(table *Table, canBeEvicted bool) {
	d.assertLocked()

	table.AddSystemColumns()
	table.lookupKey = lookupName(table.Name, d.cfg.LowerCaseTableNames)

	if d.findByName(table.Name) != nil {
		panic(fmt.Sprintf("dict: table %s already in cache", table.Name))
	}
	idHash := d.idHashFor(table)
	if idHash.search(foldID(table.ID), func(t *Table) bool { return t.ID == table.ID }) != nil {
		panic(fmt.Sprintf("dict: table id %d already in cache", table.ID))
	}

	d.tableHash.insert(foldName(table.lookupKey), table)
	idHash.insert(foldID(table.ID), table)

	table.Cached = true
	table.canBeEvicted = canBeEvicted
	if canBeEvicted {
		table.lruElem = d.lru.PushFront(table)
	} else {
		table.lruElem = d.nonLRU.PushFront(table)
	}
}

// FindTable 表对象是否在缓存中
func (d *DictSys) FindTable(table *Table) bool {
	d.assertLocked()
	return d.tableHash.contains(foldName(table.lookupKey), table)
}

// TableCheckIfInCache 按名字在缓存中查找表，不增加引用
func (d *DictSys) TableCheckIfInCache(name string) *Table {
	d.assertLocked()
	return d.findByName(name)
}

// GetTable 按 ID 在缓存中查找表，不增加引用
func (d *DictSys) GetTable(id uint64) *Table {
	d.assertLocked()
	return d.findByID(id)
}

// Tables 缓存中所有的表，LRU 在前
func (d *DictSys) Tables() []*Table {
	d.assertLocked()
	out := make([]*Table, 0, d.lru.Len()+d.nonLRU.Len())
	for e := d.lru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Table))
	}
	for e := d.nonLRU.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Table))
	}
	return out
}

// PreventEviction 把表移到非 LRU 链表
func (d *DictSys) PreventEviction(table *Table) {
	d.assertLocked()
	if !table.canBeEvicted {
		return
	}
	d.lru.Remove(table.lruElem)
	table.lruElem = d.nonLRU.PushFront(table)
	table.canBeEvicted = false
}

// AllowEviction 把表移回 LRU 链表
func (d *DictSys) AllowEviction(table *Table) {
	d.assertLocked()
	if table.canBeEvicted {
		return
	}
	d.nonLRU.Remove(table.lruElem)
	table.lruElem = d.lru.PushFront(table)
	table.canBeEvicted = true
	table.pinnedByForeign = false
}

// TableRemoveFromCache 从缓存中删除表。
// lru 为 true 表示由淘汰触发；keep 为 true 时只摘除，调用方继续持有表对象
func (d *DictSys) TableRemoveFromCache(table *Table, lru, keep bool) {
	d.assertLocked()
	if n := table.RefCount(); n != 0 {
		panic(fmt.Sprintf("dict: removing %s with %d references", table, n))
	}
	if d.tableHasLocks(table) {
		panic(fmt.Sprintf("dict: removing %s with active locks", table))
	}
	d.tableRemoveLow(table, lru, keep)
}

func (d *DictSys) tableHasLocks(table *Table) bool {
	return d.deps.LockSys != nil && d.deps.LockSys.TableHasLocks(table.ID)
}

func (d *DictSys) tableRemoveLow(table *Table, lru, keep bool) {
	for _, foreign := range table.ForeignSet {
		if ref := foreign.ReferencedTable; ref != nil && ref != table {
			ref.ReferencedSet.Remove(foreign)
			d.unpinIfNoForeignKeys(ref)
		}
	}
	table.ForeignSet = NewForeignSet()

	for _, foreign := range table.ReferencedSet {
		foreign.ReferencedTable = nil
		foreign.ReferencedIndex = nil
	}

	for i := len(table.Indexes) - 1; i >= 0; i-- {
		d.indexRemoveFromCacheLow(table, table.Indexes[i], lru)
	}

	if !d.tableHash.delete(foldName(table.lookupKey), table) {
		panic(fmt.Sprintf("dict: %s missing from name hash", table))
	}
	if !d.idHashFor(table).delete(foldID(table.ID), table) {
		panic(fmt.Sprintf("dict: %s missing from id hash", table))
	}

	if table.canBeEvicted {
		d.lru.Remove(table.lruElem)
	} else {
		d.nonLRU.Remove(table.lruElem)
	}
	table.lruElem = nil
	table.Cached = false

	if lru && table.DropAborted && d.deps.Dropper != nil {
		if err := d.deps.Dropper.DropOrphanIndexes(table.ID); err != nil {
			logger.Errorf("Failed to drop orphan indexes of table %s: %v", table.Name, err)
		}
	}

	if keep {
		return
	}

	if d.hasFreedIndexes(table) {
		// 自适应哈希还引用着已摘除的索引，表对象随索引一起释放
		table.FTS = nil
		table.ID = 0
		return
	}

	table.Indexes = nil
	table.FTS = nil
}

func (d *DictSys) hasFreedIndexes(table *Table) bool {
	for _, indexes := range d.freedIndexes {
		for _, index := range indexes {
			if index.Table == table {
				return true
			}
		}
	}
	return false
}

// Resize 按缓冲池大小重建哈希表
func (d *DictSys) Resize(bufferPoolSize int64) {
	d.assertLocked()
	d.cfg.BufferPoolSize = bufferPoolSize
	nCells := hashCells(bufferPoolSize)

	tableHash := newHashTable(nCells)
	tableIDHash := newHashTable(nCells)
	tempIDHash := newHashTable(nCells)

	d.tableHash.forEach(func(t *Table) {
		tableHash.insert(foldName(t.lookupKey), t)
	})
	d.tableIDHash.forEach(func(t *Table) {
		tableIDHash.insert(foldID(t.ID), t)
	})
	d.tempIDHash.forEach(func(t *Table) {
		tempIDHash.insert(foldID(t.ID), t)
	})

	d.tableHash = tableHash
	d.tableIDHash = tableIDHash
	d.tempIDHash = tempIDHash
	logger.Infof("Resized dictionary cache hash tables to %d cells", tableHash.size())
}

// HashSize 哈希表槽位数
func (d *DictSys) HashSize() int {
	return d.tableHash.size()
}

// Close 关闭缓存，删除所有表。还有引用或锁的表记警告后照样删除
func (d *DictSys) Close() {
	d.bgWG.Wait()
	d.taskPool.Close()

	d.Lock()
	defer d.Unlock()

	for _, table := range d.tableHash.tables() {
		if n := table.RefCount(); n != 0 {
			logger.Warnf("Table %s still has %d references at shutdown", table.Name, n)
			table.refCount.Store(0)
		}
		if d.tableHasLocks(table) {
			logger.Warnf("Table %s still has lock requests at shutdown", table.Name)
		}
		d.tableRemoveLow(table, false, false)
	}
	d.freedIndexes = make(map[uint64][]*Index)
}
