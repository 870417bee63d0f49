package latch

import (
	"sync"
	"sync/atomic"
)

// Latch 字典缓存的粗粒度读写锁。
// DDL 持有写锁，DML 查找持有读锁；记录持有者数量用于断言
type Latch struct {
	name    string
	mu      sync.RWMutex
	xLocked atomic.Bool
	readers atomic.Int32
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{name: "latch"}
}

// NewNamedLatch 创建带名字的锁，名字用于日志和断言信息
func NewNamedLatch(name string) *Latch {
	return &Latch{name: name}
}

// Name 锁的名字
func (l *Latch) Name() string {
	return l.name
}

// Lock 获取写锁
func (l *Latch) Lock() {
	l.mu.Lock()
	l.xLocked.Store(true)
}

// Unlock 释放写锁
func (l *Latch) Unlock() {
	l.xLocked.Store(false)
	l.mu.Unlock()
}

// RLock 获取读锁
func (l *Latch) RLock() {
	l.mu.RLock()
	l.readers.Add(1)
}

// RUnlock 释放读锁
func (l *Latch) RUnlock() {
	l.readers.Add(-1)
	l.mu.RUnlock()
}

// TryLock 尝试获取写锁
func (l *Latch) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.xLocked.Store(true)
	return true
}

// TryRLock 尝试获取读锁
func (l *Latch) TryRLock() bool {
	if !l.mu.TryRLock() {
		return false
	}
	l.readers.Add(1)
	return true
}

// IsXLocked 写锁是否被持有
func (l *Latch) IsXLocked() bool {
	return l.xLocked.Load()
}

// IsLocked 读锁或写锁是否被持有
func (l *Latch) IsLocked() bool {
	return l.xLocked.Load() || l.readers.Load() > 0
}

// Readers 当前读锁持有者数量
func (l *Latch) Readers() int {
	return int(l.readers.Load())
}
