package latch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-dict/logger"
)

// DefaultFatalWait 对应 innodb_fatal_semaphore_wait_threshold 的默认值
const DefaultFatalWait = 600 * time.Second

// WaitHook 在等待时间超出阈值时被调用
type WaitHook func(name string, waited time.Duration)

// WatchedMutex 是带有等待看门狗的互斥锁。
// 第一个等待者记录开始等待的时间，后续等待者据此计算已等待时长：
// 超过阈值的 1/4 记录告警，超过阈值则调用 fatal 钩子。
type WatchedMutex struct {
	name      string
	mu        sync.Mutex
	held      atomic.Bool
	waitStart atomic.Int64

	threshold time.Duration
	warn      WaitHook
	fatal     WaitHook
	now       func() time.Time
}

// NewWatchedMutex 创建带看门狗的互斥锁，threshold<=0 时使用默认阈值
func NewWatchedMutex(name string, threshold time.Duration) *WatchedMutex {
	if threshold <= 0 {
		threshold = DefaultFatalWait
	}
	return &WatchedMutex{
		name:      name,
		threshold: threshold,
		warn:      defaultWarn,
		fatal:     defaultFatal,
		now:       time.Now,
	}
}

func defaultWarn(name string, waited time.Duration) {
	logger.Warnf("Long wait (%v) for mutex %s", waited, name)
}

func defaultFatal(name string, waited time.Duration) {
	logger.Fatalf("Semaphore wait has lasted > %v for mutex %s. We intentionally crash the server", waited, name)
}

// SetHooks 替换告警与致命钩子，nil 表示保留原值
func (m *WatchedMutex) SetHooks(warn, fatal WaitHook) {
	if warn != nil {
		m.warn = warn
	}
	if fatal != nil {
		m.fatal = fatal
	}
}

// SetClock 替换时钟，仅用于测试
func (m *WatchedMutex) SetClock(now func() time.Time) {
	m.now = now
}

// Lock 获取互斥锁
func (m *WatchedMutex) Lock() {
	if m.mu.TryLock() {
		m.held.Store(true)
		return
	}

	start := m.now().UnixNano()
	first := m.waitStart.CompareAndSwap(0, start)
	if !first {
		m.check(start)
	}

	m.mu.Lock()
	if first {
		m.waitStart.CompareAndSwap(start, 0)
	}
	m.held.Store(true)
}

func (m *WatchedMutex) check(nowNanos int64) {
	since := m.waitStart.Load()
	if since == 0 {
		return
	}
	waited := time.Duration(nowNanos - since)
	switch {
	case waited >= m.threshold:
		m.fatal(m.name, waited)
	case waited > m.threshold/4:
		m.warn(m.name, waited)
	}
}

// TryLock 尝试获取互斥锁
func (m *WatchedMutex) TryLock() bool {
	if m.mu.TryLock() {
		m.held.Store(true)
		return true
	}
	return false
}

// Unlock 释放互斥锁
func (m *WatchedMutex) Unlock() {
	m.held.Store(false)
	m.mu.Unlock()
}

// IsLocked 报告锁当前是否被持有
func (m *WatchedMutex) IsLocked() bool {
	return m.held.Load()
}

// Name 返回锁名
func (m *WatchedMutex) Name() string {
	return m.name
}
