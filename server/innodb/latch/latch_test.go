package latch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatchTryLock(t *testing.T) {
	l := NewLatch()
	l.RLock()
	assert.True(t, l.TryRLock())
	assert.False(t, l.TryLock())
	l.RUnlock()
	l.RUnlock()

	assert.True(t, l.TryLock())
	assert.False(t, l.TryRLock())
	l.Unlock()
}

func TestLatchHolders(t *testing.T) {
	l := NewNamedLatch("dict_operation_lock")
	assert.Equal(t, "dict_operation_lock", l.Name())
	assert.False(t, l.IsLocked())

	l.RLock()
	l.RLock()
	assert.Equal(t, 2, l.Readers())
	assert.True(t, l.IsLocked())
	assert.False(t, l.IsXLocked())
	l.RUnlock()
	l.RUnlock()

	l.Lock()
	assert.True(t, l.IsXLocked())
	assert.Equal(t, 0, l.Readers())
	l.Unlock()
	assert.False(t, l.IsLocked())
}

func TestWatchedMutexUncontended(t *testing.T) {
	m := NewWatchedMutex("dict_sys", time.Second)
	m.Lock()
	assert.True(t, m.IsLocked())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.False(t, m.IsLocked())
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestWatchedMutexWatchdog(t *testing.T) {
	m := NewWatchedMutex("dict_sys", 100*time.Second)

	var mu sync.Mutex
	var warned, fataled []time.Duration
	m.SetHooks(
		func(_ string, waited time.Duration) {
			mu.Lock()
			warned = append(warned, waited)
			mu.Unlock()
		},
		func(_ string, waited time.Duration) {
			mu.Lock()
			fataled = append(fataled, waited)
			mu.Unlock()
		},
	)

	base := time.Unix(1000, 0)
	var clockMu sync.Mutex
	current := base
	m.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	})
	advance := func(d time.Duration) {
		clockMu.Lock()
		current = current.Add(d)
		clockMu.Unlock()
	}

	m.Lock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Lock()
		m.Unlock()
	}()
	// 等待第一个等待者记录开始时间
	assert.Eventually(t, func() bool { return m.waitStart.Load() != 0 }, time.Second, time.Millisecond)

	// 第二个等待者：未超过阈值的 1/4
	advance(10 * time.Second)
	m.check(m.now().UnixNano())
	mu.Lock()
	assert.Empty(t, warned)
	assert.Empty(t, fataled)
	mu.Unlock()

	advance(20 * time.Second)
	m.check(m.now().UnixNano())
	mu.Lock()
	assert.Len(t, warned, 1)
	assert.Empty(t, fataled)
	mu.Unlock()

	advance(80 * time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Lock()
		m.Unlock()
	}()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fataled) == 1
	}, time.Second, time.Millisecond)

	m.Unlock()
	wg.Wait()
	assert.Equal(t, int64(0), m.waitStart.Load())
}
