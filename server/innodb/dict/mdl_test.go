package dict

import (
	"context"
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMDL(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	table, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, MDLKey{DB: "db", Table: "t1"}, ticket.Key())
	assert.Equal(t, int64(1), table.RefCount())
	assert.Equal(t, 1, mdl.heldCount())
	assert.False(t, d.IsLocked())

	d.CloseTableAndReleaseMDL(table, false, mdl, ticket)
	assert.Equal(t, int64(0), table.RefCount())
	assert.Equal(t, 0, mdl.heldCount())
}

func TestOpenWithMDLNowait(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	got, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, true, TableOpNormal)
	require.NoError(t, err)
	assert.Same(t, table, got)
	d.CloseTableAndReleaseMDL(got, false, mdl, ticket)

	mdl.unavailable = true
	_, ticket, err = d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, true, TableOpNormal)
	assert.Equal(t, ErrLockUnavailable, errors.Cause(err))
	assert.Nil(t, ticket)
	assert.Equal(t, uint16(3572), ToMySQLError(err).Number)
	assert.Equal(t, int64(0), table.RefCount())
	assert.Equal(t, 0, mdl.heldCount())
}

func TestMDLRetriesOnceAfterConcurrentRename(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		if n != 1 {
			return
		}
		d.Lock()
		require.NoError(t, d.TableRenameInCache(d.GetTable(1), "db/t2", true))
		d.Unlock()
	}

	got, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	require.NoError(t, err)
	assert.Same(t, table, got)
	assert.Equal(t, MDLKey{DB: "db", Table: "t2"}, ticket.Key())
	assert.Equal(t, []MDLKey{{DB: "db", Table: "t1"}, {DB: "db", Table: "t2"}}, mdl.requests)
	assert.Equal(t, 1, mdl.heldCount())
	assert.Equal(t, int64(1), table.RefCount())
	assert.Equal(t, uint64(1), d.Stats().MDLRetries)

	d.CloseTableAndReleaseMDL(got, false, mdl, ticket)
}

func TestMDLRenameWithinSameKeyNeedsNoRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowerCaseTableNames = 1
	d := NewDictSys(cfg, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		if n == 1 {
			d.Lock()
			require.NoError(t, d.TableRenameInCache(d.GetTable(1), "db/t1#p#p0", true))
			d.Unlock()
		}
	}

	_, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	require.NoError(t, err)
	assert.Len(t, mdl.requests, 1)
	assert.Equal(t, MDLKey{DB: "db", Table: "t1"}, ticket.Key())
}

func TestMDLTableDroppedWhileWaiting(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		d.Lock()
		d.TableRemoveFromCache(d.GetTable(1), false, false)
		d.Unlock()
	}

	_, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	assert.True(t, IsNotFound(err))
	assert.Nil(t, ticket)
	assert.Equal(t, 0, mdl.heldCount())
}

func TestMDLTooManyRenames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRenameRetries = 2
	d := NewDictSys(cfg, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t0", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		d.Lock()
		require.NoError(t, d.TableRenameInCache(d.GetTable(1), fmt.Sprintf("db/t%d", n), true))
		d.Unlock()
	}

	_, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	assert.Equal(t, ErrTooManyRenames, errors.Cause(err))
	assert.Nil(t, ticket)
	assert.Len(t, mdl.requests, 3)
	assert.Equal(t, 0, mdl.heldCount())
	assert.Equal(t, int64(0), table.RefCount())
}

func TestMDLRenamedToIntermediateTable(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		d.Lock()
		require.NoError(t, d.TableRenameInCache(d.GetTable(1), "db/#sql-ib1", true))
		d.Unlock()
	}

	_, _, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	assert.Equal(t, ErrTableNotFound, errors.Cause(err))
	assert.Equal(t, 0, mdl.heldCount())
	assert.Equal(t, int64(0), table.RefCount())
}

func TestMDLNotNeeded(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	cacheTable(t, d, "db/#sql-1", 1, "a")
	cacheTable(t, d, "SYS_TABLES", 2, "a")
	d.Unlock()

	for _, id := range []uint64{1, 2} {
		table, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), id, mdl, false, TableOpNormal)
		require.NoError(t, err)
		assert.Nil(t, ticket)
		assert.Equal(t, int64(1), table.RefCount())
		d.CloseTableAndReleaseMDL(table, false, mdl, ticket)
	}
	assert.Empty(t, mdl.requests)

	table, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, nil, false, TableOpNormal)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	d.CloseTable(table, false, false)
}

func TestMDLKeyOf(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowerCaseTableNames = 1
	d := NewDictSys(cfg, Deps{})

	key, ok := d.mdlKeyOf(&Table{Name: "DB/T1#P#p0"})
	require.True(t, ok)
	assert.Equal(t, MDLKey{DB: "db", Table: "t1"}, key)
	assert.Equal(t, "db/t1", key.String())

	_, ok = d.mdlKeyOf(&Table{Name: "db/#sql-12"})
	assert.False(t, ok)
	_, ok = d.mdlKeyOf(&Table{Name: "plain"})
	assert.False(t, ok)

	key, ok = d.MDLKeyForName("Db/T2")
	require.True(t, ok)
	assert.Equal(t, MDLKey{DB: "db", Table: "t2"}, key)
}

func TestMDLInaccessibleTable(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t1", 1, "a")
	table.Corrupted = true
	d.Unlock()

	_, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	assert.Equal(t, ErrTableInaccessible, errors.Cause(err))
	assert.Nil(t, ticket)
	assert.Empty(t, mdl.requests)
	assert.Equal(t, int64(0), table.RefCount())
}

func TestMDLTableBecomesUnreadableWhileWaiting(t *testing.T) {
	d := newTestDict(t, Deps{})
	mdl := newFakeMDL()
	d.Lock()
	table := cacheTable(t, d, "db/t1", 1, "a")
	table.Flags2 |= TableFlag2UseFilePerTable
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		d.SetEncryptedBySpace(1)
	}

	_, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	assert.Equal(t, ErrTableInaccessible, errors.Cause(err))
	assert.Nil(t, ticket)
	assert.Equal(t, 0, mdl.heldCount())
	assert.Equal(t, int64(0), table.RefCount())
	assert.True(t, table.Encrypted)
}

func TestMDLReloadsEvictedTable(t *testing.T) {
	loader := &fakeLoader{byID: map[uint64]string{1: "db/t1"}}
	loader.byName = map[string]func(d *DictSys) *Table{
		"db/t1": func(d *DictSys) *Table {
			return cacheTable(t, d, "db/t1", 1, "a")
		},
	}
	d := newTestDict(t, Deps{Loader: loader})
	mdl := newFakeMDL()
	d.Lock()
	first := cacheTable(t, d, "db/t1", 1, "a")
	d.Unlock()

	mdl.onAcquire = func(n int, key MDLKey) {
		d.Lock()
		assert.Equal(t, 1, d.MakeRoomInCache(0, 100))
		d.Unlock()
	}

	got, ticket, err := d.OpenTableOnIDWithMDL(context.Background(), 1, mdl, false, TableOpNormal)
	require.NoError(t, err)
	assert.NotSame(t, first, got)
	assert.Equal(t, "db/t1", got.Name)
	assert.Len(t, mdl.requests, 1)
	assert.Equal(t, 1, loader.calls)
	d.CloseTableAndReleaseMDL(got, false, mdl, ticket)
}
