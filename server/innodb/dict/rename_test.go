package dict

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameInCache(t *testing.T) {
	files := &fakeFiles{}
	d := newTestDict(t, Deps{Files: files})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "db/old", 1, "a")
	table.Flags2 |= TableFlag2UseFilePerTable
	gen := table.RenameGeneration()

	require.NoError(t, d.TableRenameInCache(table, "db/new", true))

	assert.Nil(t, d.TableCheckIfInCache("db/old"))
	assert.Same(t, table, d.TableCheckIfInCache("db/new"))
	assert.Same(t, table, d.GetTable(1))
	assert.Equal(t, "db/new", table.FirstIndex().TableName)
	assert.Equal(t, gen+1, table.RenameGeneration())
	assert.Equal(t, [][2]string{{"db/old", "db/new"}}, files.renames)
	require.NoError(t, d.ValidateLRU())

	_, err := d.OpenTableOnName("db/old", true, false, IgnoreNone)
	assert.True(t, IsNotFound(err))
	opened, err := d.OpenTableOnName("db/new", true, false, IgnoreNone)
	require.NoError(t, err)
	d.CloseTable(opened, true, false)
}

func TestRenameCollision(t *testing.T) {
	files := &fakeFiles{}
	d := newTestDict(t, Deps{Files: files})
	d.Lock()
	defer d.Unlock()

	t1 := cacheTable(t, d, "db/t1", 1, "a")
	t1.Flags2 |= TableFlag2UseFilePerTable
	cacheTable(t, d, "db/t2", 2, "a")

	err := d.TableRenameInCache(t1, "db/t2", true)
	assert.Equal(t, ErrNameCollision, errors.Cause(err))
	assert.Equal(t, uint16(1050), ToMySQLError(err).Number)
	assert.Equal(t, "db/t1", t1.Name)
	assert.Empty(t, files.renames)
}

func TestRenameFileFailureLeavesCacheUntouched(t *testing.T) {
	files := &fakeFiles{err: ErrTablespaceExists}
	d := newTestDict(t, Deps{Files: files})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "db/t1", 1, "a")
	table.Flags2 |= TableFlag2UseFilePerTable

	err := d.TableRenameInCache(table, "db/t2", true)
	assert.Equal(t, ErrTablespaceExists, errors.Cause(err))
	assert.Same(t, table, d.TableCheckIfInCache("db/t1"))
	assert.Nil(t, d.TableCheckIfInCache("db/t2"))
	assert.Equal(t, uint64(0), table.RenameGeneration())
}

func TestRenameSkipsFileForSharedAndDiscarded(t *testing.T) {
	files := &fakeFiles{err: ErrTablespaceExists}
	d := newTestDict(t, Deps{Files: files})
	d.Lock()
	defer d.Unlock()

	shared := cacheTable(t, d, "db/shared", 1, "a")
	require.NoError(t, d.TableRenameInCache(shared, "db/shared2", true))

	discarded := cacheTable(t, d, "db/disc", 2, "a")
	discarded.Flags2 |= TableFlag2UseFilePerTable | TableFlag2Discarded
	require.NoError(t, d.TableRenameInCache(discarded, "db/disc2", true))
}

func TestRenamePropagatesForeignKeyIDs(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	parent := cacheTable(t, d, "db/parent", 1, "id")
	child := cacheTable(t, d, "db/child", 2, "id", "pid")
	addIndex(t, d, child, 201, "fk_pid", 0, "pid")

	gen, err := d.ForeignAddToCache(NewForeign("db/child_ibfk_1", "db/child", "db/parent",
		[]string{"pid"}, []string{"id"}, 0), nil, true, IgnoreNone)
	require.NoError(t, err)
	user, err := d.ForeignAddToCache(NewForeign("db/my_fk", "db/child", "db/parent",
		[]string{"pid"}, []string{"id"}, 0), nil, true, IgnoreNone)
	require.NoError(t, err)

	require.NoError(t, d.TableRenameInCache(child, "other/kid", true))

	assert.Equal(t, "other/kid_ibfk_1", gen.ID)
	assert.Equal(t, "other/my_fk", user.ID)
	assert.Equal(t, "other/kid", gen.ForeignTableName)
	assert.Same(t, gen, child.ForeignSet.Find("other/kid_ibfk_1"))
	assert.Same(t, user, parent.ReferencedSet.Find("other/my_fk"))
	assert.Nil(t, parent.ReferencedSet.Find("db/child_ibfk_1"))
	require.NoError(t, d.ValidateLRU())

	require.NoError(t, d.TableRenameInCache(parent, "db/mom", true))
	assert.Equal(t, "db/mom", gen.ReferencedTableName)
	assert.Equal(t, "db/mom", user.ReferencedTableName)
	require.NoError(t, d.ValidateLRU())
}

func TestRenameWithoutPropagationStripsForeignKeys(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	parent := cacheTable(t, d, "db/parent", 1, "id")
	child := cacheTable(t, d, "db/child", 2, "id", "pid")
	addIndex(t, d, child, 201, "fk_pid", 0, "pid")

	fk, err := d.ForeignAddToCache(NewForeign("db/child_ibfk_1", "db/child", "db/parent",
		[]string{"pid"}, []string{"id"}, 0), nil, true, IgnoreNone)
	require.NoError(t, err)

	require.NoError(t, d.TableRenameInCache(child, "db/#sql-child", false))
	assert.Equal(t, 0, child.ForeignSet.Len())
	assert.Equal(t, 0, parent.ReferencedSet.Len())
	assert.True(t, child.IsEvictable())
	assert.True(t, parent.IsEvictable())
	assert.Equal(t, "db/child_ibfk_1", fk.ID)
	require.NoError(t, d.ValidateLRU())
}

func TestRenameReferencedTableWithoutPropagation(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	parent := cacheTable(t, d, "db/parent", 1, "id")
	child := cacheTable(t, d, "db/child", 2, "id", "pid")
	addIndex(t, d, child, 201, "fk_pid", 0, "pid")

	fk, err := d.ForeignAddToCache(NewForeign("db/child_ibfk_1", "db/child", "db/parent",
		[]string{"pid"}, []string{"id"}, 0), nil, true, IgnoreNone)
	require.NoError(t, err)

	require.NoError(t, d.TableRenameInCache(parent, "db/#sql-parent", false))
	assert.Nil(t, fk.ReferencedTable)
	assert.Equal(t, "db/child_ibfk_1", fk.ID)
	assert.True(t, child.ForeignSet.Contains(fk))
	assert.True(t, parent.IsEvictable())
	require.NoError(t, d.ValidateLRU())
}

func TestRenamedForeignID(t *testing.T) {
	assert.Equal(t, "db/new_ibfk_3", renamedForeignID("db/old_ibfk_3", "db/old", "db/new"))
	assert.Equal(t, "db2/new_ibfk_3", renamedForeignID("db/old_ibfk_3", "db/old", "db2/new"))
	assert.Equal(t, "db2/custom", renamedForeignID("db/custom", "db/old", "db2/new"))
	assert.Equal(t, "db/old_ibfk_", renamedForeignID("db/old_ibfk_", "db/old", "db/new"))
}

func TestChangeIDInCache(t *testing.T) {
	d := newTestDict(t, Deps{})
	d.Lock()
	defer d.Unlock()

	table := cacheTable(t, d, "db/t1", 1, "a")
	cacheTable(t, d, "db/t2", 2, "a")

	require.NoError(t, d.TableChangeIDInCache(table, 10))
	assert.Nil(t, d.GetTable(1))
	assert.Same(t, table, d.GetTable(10))
	assert.Same(t, table, d.TableCheckIfInCache("db/t1"))

	assert.Equal(t, ErrDuplicateTable, errors.Cause(d.TableChangeIDInCache(table, 2)))
	assert.Same(t, table, d.GetTable(10))

	tmp := newTestTable("db/#sql-tmp", 30, "a")
	tmp.Flags2 |= TableFlag2Temporary
	d.AddTable(tmp, false)
	assert.Equal(t, ErrTempTableIDChange, errors.Cause(d.TableChangeIDInCache(tmp, 31)))
	require.NoError(t, d.ValidateLRU())
}

func TestRenameTemporaryTableFails(t *testing.T) {
	files := &fakeFiles{}
	d := newTestDict(t, Deps{Files: files})
	d.Lock()
	defer d.Unlock()

	tmp := newTestTable("db/#sql-tmp", 30, "a")
	tmp.Flags2 |= TableFlag2Temporary | TableFlag2UseFilePerTable
	d.AddTable(tmp, false)
	assert.Error(t, d.TableRenameInCache(tmp, "db/#sql-tmp2", true))
	assert.Same(t, tmp, d.TableCheckIfInCache("db/#sql-tmp"))
}
