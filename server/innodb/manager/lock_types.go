package manager

import "time"

// LockType 锁类型
type LockType int

const (
	LOCK_S LockType = iota // 共享锁
	LOCK_X                 // 排他锁
)

func (t LockType) String() string {
	if t == LOCK_X {
		return "X"
	}
	return "S"
}

// LockMode 锁模式
type LockMode int

const (
	LOCK_MODE_RECORD LockMode = iota // 行锁
	LOCK_MODE_TABLE                  // 表锁
)

// ResourceID 加锁对象。表锁的 PageNo/HeapNo 为 0
type ResourceID struct {
	Mode    LockMode
	TableID uint64
	PageNo  uint32
	HeapNo  uint64
}

// LockStats 锁统计信息
type LockStats struct {
	GrantedLocks   uint64 // 已授予锁数
	WaitingLocks   uint64 // 等待中锁数
	Deadlocks      uint64 // 死锁次数
	LockTimeouts   uint64 // 锁超时次数
	LockConflicts  uint64 // 锁冲突次数
	RecordLocks    uint64 // 行锁数
	TableLocks     uint64 // 表锁数
	MaxWaitTime    time.Duration
	TotalWaitTime  time.Duration
	CompletedWaits uint64
}

// AvgWaitTime 平均等待时间
func (s LockStats) AvgWaitTime() time.Duration {
	if s.CompletedWaits == 0 {
		return 0
	}
	return s.TotalWaitTime / time.Duration(s.CompletedWaits)
}

// LockConfig 锁配置
type LockConfig struct {
	DeadlockInterval time.Duration // 死锁检测间隔，0 表示只在加锁时检测
	LockTimeout      time.Duration // 锁等待超时(lock_wait_timeout)
	MaxLocksPerTxn   int           // 每个事务最大锁数，0 不限制
}

// DefaultLockConfig 默认锁配置
func DefaultLockConfig() LockConfig {
	return LockConfig{
		DeadlockInterval: time.Second,
		LockTimeout:      50 * time.Second,
	}
}
