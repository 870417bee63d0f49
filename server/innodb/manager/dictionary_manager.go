package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/conf"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/fil"
)

// CatalogWriter 持久化字典的写操作，加载器实现它时 DDL 同步修改持久化字典
type CatalogWriter interface {
	RenameTable(oldName, newName string) error
	DropTable(name string) error
}

// NewDictConfig 从服务配置生成字典缓存配置
func NewDictConfig(cfg *conf.Cfg) dict.Config {
	dc := dict.DefaultConfig()
	dc.BufferPoolSize = cfg.InnodbBufferPoolSize
	dc.PageSize = cfg.InnodbPageSize
	dc.LowerCaseTableNames = cfg.LowerCaseTableNames
	dc.StatsPersistent = cfg.InnodbStatsPersistent
	dc.FatalSemaphoreWait = time.Duration(cfg.InnodbFatalSemaphoreWaitThreshold) * time.Second
	dc.ZipFailureThresholdPct = cfg.InnodbCompressionFailureThreshold
	dc.ZipPadMaxPct = cfg.InnodbCompressionPadPctMax
	if cfg.MaxRenameRetries > 0 {
		dc.MaxRenameRetries = cfg.MaxRenameRetries
	}
	return dc
}

// DictStats 数据字典管理器统计信息
type DictStats struct {
	dict.StatsSnapshot
	EvictionRuns uint64 // 后台淘汰执行次数
	LastEviction int64  // 最后一次淘汰时间
}

// DictionaryManager 数据字典管理器。
// 负责创建字典缓存及其依赖的锁系统、元数据锁、表空间文件和页压缩组件，
// 并按 table_definition_cache 在后台淘汰表
type DictionaryManager struct {
	cfg *conf.Cfg

	dict        *dict.DictSys
	locks       *LockManager
	mdl         *MDLManager
	compression *CompressionManager
	files       *fil.TablespaceFiles
	loader      dict.Loader

	evictionRuns atomic.Uint64
	lastEviction atomic.Int64

	closed   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDictionaryManager 创建数据字典管理器，loader 和 dropper 可以为 nil
func NewDictionaryManager(cfg *conf.Cfg, loader dict.Loader, dropper dict.IndexDropper) (*DictionaryManager, error) {
	method, err := ParseCompressionMethod(cfg.InnodbCompressionAlgorithm)
	if err != nil {
		return nil, errors.Trace(err)
	}

	dm := &DictionaryManager{
		cfg:    cfg,
		locks:  NewLockManager(LockConfig{DeadlockInterval: time.Second, LockTimeout: time.Duration(cfg.LockWaitTimeout) * time.Second}),
		mdl:    NewMDLManager(time.Duration(cfg.LockWaitTimeout) * time.Second),
		files:  fil.NewTablespaceFiles(cfg.InnodbDataDir),
		loader: loader,

		compression: NewCompressionManager(method, cfg.InnodbPageSize),
		stopChan:    make(chan struct{}),
	}

	dm.dict = dict.NewDictSys(NewDictConfig(cfg), dict.Deps{
		Loader:   loader,
		LockSys:  dm.locks,
		Dropper:  dropper,
		Files:    dm.files,
		ZipStats: dm.compression,
	})
	dm.compression.SetPadController(dm.dict)

	if cfg.EvictionInterval > 0 && cfg.TableDefinitionCache > 0 {
		dm.wg.Add(1)
		go dm.evictionLoop(cfg.EvictionInterval)
	}

	logger.Infof("Dictionary manager started: table_definition_cache=%d lru_scan_pct=%d compression=%s",
		cfg.TableDefinitionCache, cfg.LRUScanPct, cfg.InnodbCompressionAlgorithm)
	return dm, nil
}

// Config 服务配置
func (dm *DictionaryManager) Config() *conf.Cfg {
	return dm.cfg
}

// Dict 字典缓存
func (dm *DictionaryManager) Dict() *dict.DictSys {
	return dm.dict
}

// Locks 锁管理器
func (dm *DictionaryManager) Locks() *LockManager {
	return dm.locks
}

// MDL 元数据锁管理器
func (dm *DictionaryManager) MDL() *MDLManager {
	return dm.mdl
}

// Compression 页压缩管理器
func (dm *DictionaryManager) Compression() *CompressionManager {
	return dm.compression
}

// Files 表空间文件
func (dm *DictionaryManager) Files() *fil.TablespaceFiles {
	return dm.files
}

// OpenTable 按 ID 打开表并获取共享元数据锁
func (dm *DictionaryManager) OpenTable(ctx context.Context, session *MDLSession, id uint64, nowait bool) (*dict.Table, dict.MDLTicket, error) {
	if dm.closed.Load() {
		return nil, nil, errors.Trace(ErrManagerClosed)
	}
	var mdl dict.MDLContext
	if session != nil {
		mdl = session
	}
	return dm.dict.OpenTableOnIDWithMDL(ctx, id, mdl, nowait, dict.TableOpNormal)
}

// OpenTableByName 按名字打开表，不加元数据锁
func (dm *DictionaryManager) OpenTableByName(name string) (*dict.Table, error) {
	if dm.closed.Load() {
		return nil, errors.Trace(ErrManagerClosed)
	}
	return dm.dict.OpenTableOnName(name, false, true, dict.IgnoreNone)
}

// CloseTable 释放表引用和元数据锁
func (dm *DictionaryManager) CloseTable(table *dict.Table, session *MDLSession, ticket dict.MDLTicket) {
	var mdl dict.MDLContext
	if session != nil {
		mdl = session
	}
	dm.dict.CloseTableAndReleaseMDL(table, false, mdl, ticket)
}

// lockNames 按名字对表加排他元数据锁，同一个对象只加一次
func (dm *DictionaryManager) lockNames(ctx context.Context, session *MDLSession, names ...string) ([]*MDLTicket, error) {
	var tickets []*MDLTicket
	seen := make(map[dict.MDLKey]bool)
	for _, name := range names {
		key, ok := dm.dict.MDLKeyForName(name)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		ticket, err := session.AcquireExclusive(ctx, key, false)
		if err != nil {
			for _, t := range tickets {
				session.Release(t)
			}
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// RenameTable 持有新旧名字上的排他元数据锁重命名表，外键随表一起改名
func (dm *DictionaryManager) RenameTable(ctx context.Context, session *MDLSession, oldName, newName string) error {
	if dm.closed.Load() {
		return errors.Trace(ErrManagerClosed)
	}
	tickets, err := dm.lockNames(ctx, session, oldName, newName)
	if err != nil {
		return errors.Annotatef(err, "rename %s to %s", oldName, newName)
	}
	defer func() {
		for _, t := range tickets {
			session.Release(t)
		}
	}()

	dm.dict.LockExclusive()
	defer dm.dict.UnlockExclusive()

	table, err := dm.dict.OpenTableOnName(oldName, true, false, dict.IgnoreCorrupt)
	if err != nil {
		return errors.Trace(err)
	}
	defer dm.dict.CloseTable(table, true, false)

	if err := dm.dict.TableRenameInCache(table, newName, true); err != nil {
		return errors.Trace(err)
	}
	if w, ok := dm.loader.(CatalogWriter); ok {
		if err := w.RenameTable(oldName, newName); err != nil {
			logger.Errorf("Renamed %s to %s in cache but not in catalog: %v", oldName, newName, err)
			return errors.Trace(err)
		}
	}
	return nil
}

// DropTable 删除表。表还有引用或锁时返回错误
func (dm *DictionaryManager) DropTable(ctx context.Context, session *MDLSession, name string) error {
	if dm.closed.Load() {
		return errors.Trace(ErrManagerClosed)
	}
	tickets, err := dm.lockNames(ctx, session, name)
	if err != nil {
		return errors.Annotatef(err, "drop %s", name)
	}
	defer func() {
		for _, t := range tickets {
			session.Release(t)
		}
	}()

	dm.dict.LockExclusive()
	defer dm.dict.UnlockExclusive()

	table, err := dm.dict.OpenTableOnName(name, true, false, dict.IgnoreCorrupt)
	if err != nil {
		return errors.Trace(err)
	}
	dm.dict.CloseTable(table, true, false)

	if table.RefCount() > 0 || dm.locks.TableHasLocks(table.ID) {
		return errors.Errorf("table %s is in use", name)
	}
	spaceID, dataDir, filePerTable := table.SpaceID, table.DataDirPath, table.UsesFilePerTable()
	dm.dict.TableRemoveFromCache(table, false, false)

	if filePerTable {
		if err := dm.files.DeleteTablespace(spaceID, name, dataDir); err != nil {
			logger.Warnf("Cannot delete tablespace of %s: %v", name, err)
		}
	}
	if w, ok := dm.loader.(CatalogWriter); ok {
		if err := w.DropTable(name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Evict 按 table_definition_cache 淘汰表，返回淘汰数量
func (dm *DictionaryManager) Evict() int {
	return dm.EvictTo(dm.cfg.TableDefinitionCache, dm.cfg.LRUScanPct)
}

// EvictTo 淘汰到最多 maxTables 张表，只扫描 LRU 尾部 pct%
func (dm *DictionaryManager) EvictTo(maxTables, pct int) int {
	dm.dict.LockExclusive()
	n := dm.dict.MakeRoomInCache(maxTables, pct)
	dm.dict.UnlockExclusive()

	dm.evictionRuns.Add(1)
	dm.lastEviction.Store(time.Now().Unix())
	if n > 0 {
		logger.Debugf("Evicted %d tables from dictionary cache", n)
	}
	return n
}

func (dm *DictionaryManager) evictionLoop(interval time.Duration) {
	defer dm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dm.Evict()
		case <-dm.stopChan:
			return
		}
	}
}

// Stats 统计信息
func (dm *DictionaryManager) Stats() DictStats {
	return DictStats{
		StatsSnapshot: dm.dict.Stats(),
		EvictionRuns:  dm.evictionRuns.Load(),
		LastEviction:  dm.lastEviction.Load(),
	}
}

// Close 停止后台淘汰并关闭各组件
func (dm *DictionaryManager) Close() error {
	if !dm.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(dm.stopChan)
	dm.wg.Wait()

	dm.dict.Close()
	dm.locks.Close()
	if err := dm.compression.Close(); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("Dictionary manager closed")
	return nil
}
