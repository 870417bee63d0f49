package manager

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

var _ dict.LockSys = (*LockManager)(nil)

// lockRequest 一个事务在一个对象上的锁请求
type lockRequest struct {
	txID    uint64
	mode    LockType
	res     ResourceID
	granted bool
	since   time.Time
	// 授予时收到 nil，事务被回滚时收到原因
	notify  chan error
	dropped bool
}

func conflicts(a, b LockType) bool {
	return a == LOCK_X || b == LOCK_X
}

// lockQueue 一个对象上的请求队列，已授予和等待中的请求按到达顺序排列
type lockQueue struct {
	requests []*lockRequest
}

func (q *lockQueue) of(txID uint64) *lockRequest {
	for _, r := range q.requests {
		if r.txID == txID {
			return r
		}
	}
	return nil
}

// blockers 持有与 mode 冲突的已授予锁的其他事务
func (q *lockQueue) blockers(txID uint64, mode LockType) []uint64 {
	var txs []uint64
	for _, r := range q.requests {
		if r.granted && r.txID != txID && conflicts(r.mode, mode) {
			txs = append(txs, r.txID)
		}
	}
	return txs
}

func (q *lockQueue) sharedWithOthers(txID uint64) bool {
	for _, r := range q.requests {
		if r.granted && r.txID != txID {
			return true
		}
	}
	return false
}

func (q *lockQueue) unlink(req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// promote 授予所有与已授予锁兼容的等待请求，返回新授予的请求
func (q *lockQueue) promote() []*lockRequest {
	var woken []*lockRequest
	for _, r := range q.requests {
		if r.granted || len(q.blockers(r.txID, r.mode)) > 0 {
			continue
		}
		r.granted = true
		woken = append(woken, r)
	}
	return woken
}

// LockManager 表锁和行锁。
// 字典缓存通过 TableHasLocks 判断表能否被淘汰或删除
type LockManager struct {
	mu       sync.Mutex
	cfg      LockConfig
	queues   map[ResourceID]*lockQueue
	held     map[uint64][]ResourceID // 事务 -> 它在排队或持有的对象
	waiting  map[uint64]*lockRequest // 事务 -> 正在等待的请求
	perTable map[uint64]int          // 表 -> 请求数，含行锁和等待中的请求
	stats    LockStats

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLockManager 创建锁管理器，DeadlockInterval 大于 0 时启动后台死锁检测
func NewLockManager(cfg LockConfig) *LockManager {
	lm := &LockManager{
		cfg:      cfg,
		queues:   make(map[ResourceID]*lockQueue),
		held:     make(map[uint64][]ResourceID),
		waiting:  make(map[uint64]*lockRequest),
		perTable: make(map[uint64]int),
		stopChan: make(chan struct{}),
	}
	if cfg.DeadlockInterval > 0 {
		lm.wg.Add(1)
		go lm.detectLoop()
	}
	return lm
}

// Close 停止后台死锁检测，可以重复调用
func (lm *LockManager) Close() {
	lm.stopOnce.Do(func() { close(lm.stopChan) })
	lm.wg.Wait()
}

// LockTable 表锁
func (lm *LockManager) LockTable(ctx context.Context, txID, tableID uint64, lockType LockType) error {
	return lm.lock(ctx, txID, ResourceID{Mode: LOCK_MODE_TABLE, TableID: tableID}, lockType)
}

// LockRecord 行锁，heapNo 是记录在页内的堆号
func (lm *LockManager) LockRecord(ctx context.Context, txID, tableID uint64, pageNo uint32, heapNo uint64, lockType LockType) error {
	return lm.lock(ctx, txID, ResourceID{Mode: LOCK_MODE_RECORD, TableID: tableID, PageNo: pageNo, HeapNo: heapNo}, lockType)
}

// TableHasLocks 表上是否还有锁请求
func (lm *LockManager) TableHasLocks(tableID uint64) bool {
	return lm.TableLockCount(tableID) > 0
}

// TableLockCount 表上的锁请求数
func (lm *LockManager) TableLockCount(tableID uint64) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.perTable[tableID]
}

func (lm *LockManager) Stats() LockStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stats
}

// reentry 事务已经在这个对象上有请求。S 到 X 的升级只在没有其他持有者时就地完成
func (lm *LockManager) reentry(q *lockQueue, req *lockRequest, mode LockType) error {
	if req.mode == LOCK_X || req.mode == mode {
		return nil
	}
	if q.sharedWithOthers(req.txID) {
		return errors.Annotatef(ErrLockUpgrade, "tx %d table %d", req.txID, req.res.TableID)
	}
	req.mode = LOCK_X
	return nil
}

func (lm *LockManager) lock(ctx context.Context, txID uint64, res ResourceID, mode LockType) error {
	lm.mu.Lock()

	q := lm.queues[res]
	if q == nil {
		q = &lockQueue{}
		lm.queues[res] = q
	}
	if req := q.of(txID); req != nil {
		err := lm.reentry(q, req, mode)
		lm.mu.Unlock()
		return err
	}

	if limit := lm.cfg.MaxLocksPerTxn; limit > 0 && len(lm.held[txID]) >= limit {
		if len(q.requests) == 0 {
			delete(lm.queues, res)
		}
		lm.mu.Unlock()
		return errors.Annotatef(ErrTooManyLocks, "tx %d holds %d locks", txID, len(lm.held[txID]))
	}

	req := &lockRequest{
		txID:    txID,
		mode:    mode,
		res:     res,
		granted: len(q.blockers(txID, mode)) == 0,
		since:   time.Now(),
		notify:  make(chan error, 1),
	}
	lm.enqueue(q, req)

	if req.granted {
		lm.stats.GrantedLocks++
		lm.mu.Unlock()
		return nil
	}

	lm.waiting[txID] = req
	if lm.onCycle(txID) {
		lm.drop(q, req)
		lm.stats.Deadlocks++
		lm.mu.Unlock()
		logger.Warnf("deadlock detected: tx %d waiting for %s lock on table %d", txID, mode, res.TableID)
		return errors.Annotatef(ErrDeadlockDetected, "tx %d table %d", txID, res.TableID)
	}
	lm.stats.WaitingLocks++
	lm.stats.LockConflicts++
	lm.mu.Unlock()

	return lm.await(ctx, q, req)
}

func (lm *LockManager) enqueue(q *lockQueue, req *lockRequest) {
	q.requests = append(q.requests, req)
	lm.held[req.txID] = append(lm.held[req.txID], req.res)
	lm.perTable[req.res.TableID]++
	if req.res.Mode == LOCK_MODE_TABLE {
		lm.stats.TableLocks++
	} else {
		lm.stats.RecordLocks++
	}
}

// drop 把请求移出队列和各个索引，然后唤醒能授予的等待者。调用者持有 mu
func (lm *LockManager) drop(q *lockQueue, req *lockRequest) {
	q.unlink(req)
	req.dropped = true
	if lm.waiting[req.txID] == req {
		delete(lm.waiting, req.txID)
	}

	if rest := removeResource(lm.held[req.txID], req.res); len(rest) > 0 {
		lm.held[req.txID] = rest
	} else {
		delete(lm.held, req.txID)
	}

	if n := lm.perTable[req.res.TableID] - 1; n > 0 {
		lm.perTable[req.res.TableID] = n
	} else {
		delete(lm.perTable, req.res.TableID)
	}

	if len(q.requests) == 0 {
		delete(lm.queues, req.res)
		return
	}
	for _, w := range q.promote() {
		lm.stats.GrantedLocks++
		delete(lm.waiting, w.txID)
		select {
		case w.notify <- nil:
		default:
		}
	}
}

func removeResource(list []ResourceID, res ResourceID) []ResourceID {
	for i, r := range list {
		if r == res {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (lm *LockManager) await(ctx context.Context, q *lockQueue, req *lockRequest) error {
	var expired <-chan time.Time
	if lm.cfg.LockTimeout > 0 {
		timer := time.NewTimer(lm.cfg.LockTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	start := time.Now()
	var err error
	select {
	case err = <-req.notify:
	case <-expired:
		err = ErrLockTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	waited := time.Since(start)
	lm.stats.CompletedWaits++
	lm.stats.TotalWaitTime += waited
	if waited > lm.stats.MaxWaitTime {
		lm.stats.MaxWaitTime = waited
	}

	// 授予和超时同时发生时按授予处理
	if req.granted {
		return nil
	}
	if !req.dropped {
		lm.drop(q, req)
	}
	if err == ErrLockTimeout {
		lm.stats.LockTimeouts++
	}
	return errors.Annotatef(err, "tx %d table %d", req.txID, req.res.TableID)
}

// ReleaseLocks 释放事务的全部锁，事务还在等待的请求返回 ErrDeadlockDetected
func (lm *LockManager) ReleaseLocks(txID uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.rollback(txID, ErrDeadlockDetected)
}

func (lm *LockManager) rollback(txID uint64, cause error) {
	resources := append([]ResourceID(nil), lm.held[txID]...)
	for _, res := range resources {
		q := lm.queues[res]
		if q == nil {
			continue
		}
		req := q.of(txID)
		if req == nil {
			continue
		}
		if !req.granted {
			select {
			case req.notify <- cause:
			default:
			}
		}
		lm.drop(q, req)
	}
	delete(lm.held, txID)
	delete(lm.waiting, txID)
}

// waitsFor 等待图的出边：txID 正在等待的事务
func (lm *LockManager) waitsFor(txID uint64) []uint64 {
	req := lm.waiting[txID]
	if req == nil {
		return nil
	}
	q := lm.queues[req.res]
	if q == nil {
		return nil
	}
	return q.blockers(txID, req.mode)
}

// onCycle txID 是否在等待图的环上
func (lm *LockManager) onCycle(txID uint64) bool {
	seen := make(map[uint64]bool)
	stack := lm.waitsFor(txID)
	for len(stack) > 0 {
		tx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if tx == txID {
			return true
		}
		if seen[tx] {
			continue
		}
		seen[tx] = true
		stack = append(stack, lm.waitsFor(tx)...)
	}
	return false
}

// pickVictim 环上最晚开始等待的事务
func (lm *LockManager) pickVictim() (uint64, bool) {
	var (
		victim uint64
		newest time.Time
		found  bool
	)
	for tx, req := range lm.waiting {
		if !lm.onCycle(tx) {
			continue
		}
		if !found || req.since.After(newest) {
			victim, newest, found = tx, req.since, true
		}
	}
	return victim, found
}

func (lm *LockManager) detectLoop() {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.cfg.DeadlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopChan:
			return
		case <-ticker.C:
			lm.mu.Lock()
			if victim, ok := lm.pickVictim(); ok {
				logger.Warnf("deadlock detected by background check, rolling back tx %d", victim)
				lm.stats.Deadlocks++
				lm.rollback(victim, ErrDeadlockDetected)
			}
			lm.mu.Unlock()
		}
	}
}
