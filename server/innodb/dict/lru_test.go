package dict

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillCache(t *testing.T, d *DictSys, n int) []*Table {
	tables := make([]*Table, 0, n)
	for i := 1; i <= n; i++ {
		tables = append(tables, cacheTable(t, d, fmt.Sprintf("test/t%d", i), uint64(i), "a"))
	}
	return tables
}

func TestAcquireMovesToLRUHead(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	tables := fillCache(t, d, 3)
	assert.Equal(t, 2, d.lruPosition(tables[0]))

	d.acquire(tables[0])
	assert.Equal(t, 0, d.lruPosition(tables[0]))
	assert.Equal(t, int64(1), tables[0].RefCount())
	assert.Equal(t, int64(0), d.release(tables[0]))
}

func TestReleaseDeinitsPersistentStats(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "test/t1", 1, "a")
	table.StatsInitialized = true

	d.acquire(table)
	d.acquire(table)
	d.release(table)
	assert.True(t, table.StatsInitialized)
	d.release(table)
	assert.False(t, table.StatsInitialized)

	assert.Panics(t, func() { d.release(table) })
}

func TestReleaseKeepsStatsWhenTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatsPersistent = false
	d := NewDictSys(cfg, Deps{})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "test/t1", 1, "a")
	table.StatsInitialized = true
	d.acquire(table)
	d.release(table)
	assert.True(t, table.StatsInitialized)
}

func TestCanBeEvicted(t *testing.T) {
	locks := newFakeLockSys()
	d := newTestDict(t, Deps{LockSys: locks})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "test/t1", 1, "a", "b")
	assert.True(t, d.CanBeEvicted(table))

	d.acquire(table)
	assert.False(t, d.CanBeEvicted(table))
	d.release(table)

	locks.set(1, true)
	assert.False(t, d.CanBeEvicted(table))
	locks.set(1, false)

	sec := addIndex(t, d, table, 101, "idx_b", 0, "b")
	sec.SearchInfo.AddRef()
	assert.False(t, d.CanBeEvicted(table))
	sec.SearchInfo.Release()
	assert.True(t, d.CanBeEvicted(table))

	d.PreventEviction(table)
	assert.False(t, d.CanBeEvicted(table))
}

func TestForeignKeyTablesAreNotEvicted(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	parent := cacheTable(t, d, "test/parent", 1, "id")
	child := cacheTable(t, d, "test/child", 2, "id", "pid")
	addIndex(t, d, child, 201, "fk_pid", 0, "pid")

	_, err := d.ForeignAddToCache(NewForeign("test/fk1", "test/child", "test/parent",
		[]string{"pid"}, []string{"id"}, 0), nil, true, IgnoreNone)
	require.NoError(t, err)

	assert.False(t, d.CanBeEvicted(parent))
	assert.False(t, d.CanBeEvicted(child))
	assert.Equal(t, 0, d.MakeRoomInCache(0, 100))
	assert.True(t, d.FindTable(parent))
}

func TestMakeRoomInCache(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	tables := fillCache(t, d, 10)

	assert.Equal(t, 0, d.MakeRoomInCache(11, 100))
	assert.Equal(t, 0, d.MakeRoomInCache(10, 100))

	n := d.MakeRoomInCache(5, 100)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, d.LRULen())
	for i, table := range tables {
		assert.Equal(t, i >= 5, d.FindTable(table), table.Name)
	}
	assert.Equal(t, uint64(5), d.stats.Evicted.Load())
	require.NoError(t, d.ValidateLRU())
}

func TestMakeRoomInCacheScanLimit(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	tables := fillCache(t, d, 10)
	// 最老的表被引用，只扫描一半
	d.acquire(tables[0])
	d.lru.MoveToBack(tables[0].lruElem)

	n := d.MakeRoomInCache(0, 50)
	assert.Equal(t, 4, n)
	assert.True(t, d.FindTable(tables[0]))
	assert.Equal(t, 6, d.LRULen())
	d.release(tables[0])
}

func TestMakeRoomInCacheInvalidPct(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	assert.Panics(t, func() { d.MakeRoomInCache(0, 0) })
	assert.Panics(t, func() { d.MakeRoomInCache(0, 101) })
}

func TestEvictionDropsOrphanIndexes(t *testing.T) {
	dropper := &fakeDropper{}
	d := newTestDict(t, Deps{Dropper: dropper})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "test/t1", 7, "a")
	table.DropAborted = true

	assert.Equal(t, 1, d.MakeRoomInCache(0, 100))
	assert.Equal(t, []uint64{7}, dropper.orphans)
}
