package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	jujuerrors "github.com/juju/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

func newShop(t *testing.T) (*TOMLLoader, *dict.DictSys) {
	l, err := LoadFile(filepath.Join("testdata", "shop.toml"))
	require.NoError(t, err)
	d := dict.NewDictSys(dict.DefaultConfig(), dict.Deps{Loader: l, Dropper: l})
	t.Cleanup(d.WaitBackground)
	return l, d
}

func TestLoadFile(t *testing.T) {
	l, _ := newShop(t)
	assert.Equal(t, []string{"shop/customer", "shop/orders", "shop/order_item"}, l.TableNames())
	assert.False(t, l.Dirty())

	_, err := LoadFile(filepath.Join("testdata", "missing.toml"))
	assert.Error(t, err)
}

func TestLoadChildBeforeParent(t *testing.T) {
	l, d := newShop(t)
	d.Lock()
	defer d.Unlock()

	orders, err := l.LoadTableByName(d, "shop/orders", dict.IgnoreNone)
	require.NoError(t, err)
	require.NotNil(t, orders)

	assert.True(t, orders.Cached)
	assert.Len(t, orders.Indexes, 3)
	assert.True(t, orders.DropAborted)
	require.Len(t, orders.VCols, 1)
	assert.Equal(t, "total", orders.VCols[0].BaseCols[0].Name)
	assert.True(t, orders.UsesFilePerTable())

	fk := orders.ForeignSet.Find("shop/orders_ibfk_1")
	require.NotNil(t, fk)
	assert.Nil(t, fk.ReferencedTable)
	assert.Equal(t, "idx_customer", fk.ForeignIndex.Name)
	assert.Equal(t, dict.ForeignDeleteCascade|dict.ForeignUpdateSetNull, fk.Type)

	customer, err := l.LoadTableByName(d, "shop/customer", dict.IgnoreNone)
	require.NoError(t, err)
	assert.Same(t, customer, fk.ReferencedTable)
	assert.NotNil(t, customer.ReferencedSet.Find("shop/orders_ibfk_1"))
	assert.False(t, customer.IsEvictable())

	email := customer.Indexes[1]
	assert.Equal(t, uint32(20), email.Fields[0].PrefixLen)
	assert.Equal(t, uint32(45), email.Fields[0].Col.CharsetColl())
	require.NoError(t, d.ValidateLRU())
}

func TestLoadByID(t *testing.T) {
	l, d := newShop(t)
	d.Lock()
	defer d.Unlock()

	item, err := l.LoadTableByID(d, 12, dict.TableOpNormal)
	require.NoError(t, err)
	assert.Equal(t, "shop/order_item", item.Name)
	assert.NotNil(t, item.ForeignSet.Find("shop/fk_item_order"))

	orders, err := l.LoadTableByID(d, 11, dict.TableOpNormal)
	require.NoError(t, err)
	fk := orders.ReferencedSet.Find("shop/fk_item_order")
	require.NotNil(t, fk)
	assert.Same(t, item, fk.ForeignTable)

	none, err := l.LoadTableByID(d, 99, dict.TableOpNormal)
	assert.NoError(t, err)
	assert.Nil(t, none)

	none, err = l.LoadTableByID(d, 10, dict.TableOpOpenOnlyIfCached)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestOpenThroughDictCache(t *testing.T) {
	_, d := newShop(t)

	table, err := d.OpenTableOnName("shop/customer", false, false, dict.IgnoreNone)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), table.ID)
	d.CloseTable(table, false, false)

	_, err = d.OpenTableOnName("shop/none", false, false, dict.IgnoreNone)
	assert.True(t, dict.IsNotFound(err))
}

func TestOpenDropsAbortedIndexThroughCatalog(t *testing.T) {
	l, d := newShop(t)

	orders, err := d.OpenTableOnName("shop/orders", false, true, dict.IgnoreNone)
	require.NoError(t, err)
	assert.Len(t, orders.Indexes, 2)
	assert.False(t, orders.DropAborted)
	d.CloseTable(orders, false, false)

	assert.True(t, l.Dirty())
	l.mu.Lock()
	def := l.findByID(11)
	names := make([]string, 0, len(def.Indexes))
	for _, idx := range def.Indexes {
		names = append(names, idx.Name)
	}
	l.mu.Unlock()
	assert.Equal(t, []string{"PRIMARY", "idx_customer"}, names)
}

func TestEvictionPurgesOrphanIndexes(t *testing.T) {
	l, d := newShop(t)
	d.Lock()
	defer d.Unlock()

	orders, err := l.LoadTableByName(d, "shop/orders", dict.IgnoreNone)
	require.NoError(t, err)
	require.True(t, orders.DropAborted)
	assert.False(t, l.Dirty())

	d.TableRemoveFromCache(orders, true, false)
	assert.True(t, l.Dirty())

	orders, err = l.LoadTableByName(d, "shop/orders", dict.IgnoreNone)
	require.NoError(t, err)
	assert.Len(t, orders.Indexes, 2)
	assert.False(t, orders.DropAborted)
}

func TestLowerCaseLookup(t *testing.T) {
	l, err := LoadFile(filepath.Join("testdata", "shop.toml"))
	require.NoError(t, err)
	cfg := dict.DefaultConfig()
	cfg.LowerCaseTableNames = 1
	d := dict.NewDictSys(cfg, dict.Deps{Loader: l})

	d.Lock()
	defer d.Unlock()
	table, err := l.LoadTableByName(d, "SHOP/Customer", dict.IgnoreNone)
	require.NoError(t, err)
	assert.Equal(t, "shop/customer", table.Name)
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"no clustered": `
[[table]]
id = 1
name = "db/t"
  [[table.column]]
  name = "a"
  type = "int"
  [[table.index]]
  id = 1
  name = "idx"
  fields = ["a"]
`,
		"no db": `
[[table]]
id = 1
name = "t"
`,
		"duplicate": `
[[table]]
id = 1
name = "db/t"
  [[table.column]]
  name = "a"
  type = "int"
  [[table.index]]
  id = 1
  name = "PRIMARY"
  clustered = true
  fields = ["a"]
[[table]]
id = 1
name = "db/u"
`,
		"no columns": `
[[table]]
id = 2
name = "db/t"
`,
	}
	for name, data := range cases {
		_, err := Parse([]byte(data))
		assert.Equal(t, ErrBadDefinition, errors.Cause(err), name)
	}

	_, err := Parse([]byte("[[table]\nid = "))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownColumnType(t *testing.T) {
	l, err := Parse([]byte(`
[[table]]
id = 1
name = "db/t"
  [[table.column]]
  name = "a"
  type = "json"
  [[table.index]]
  id = 1
  name = "PRIMARY"
  clustered = true
  fields = ["a"]
`))
	require.NoError(t, err)
	d := dict.NewDictSys(dict.DefaultConfig(), dict.Deps{Loader: l})

	d.Lock()
	defer d.Unlock()
	_, err = l.LoadTableByName(d, "db/t", dict.IgnoreNone)
	assert.Equal(t, ErrBadDefinition, errors.Cause(err))
	assert.Nil(t, d.TableCheckIfInCache("db/t"))
}

func TestLoadRemovesTableOnMissingForeignIndex(t *testing.T) {
	l, err := Parse([]byte(`
[[table]]
id = 1
name = "db/parent"
  [[table.column]]
  name = "id"
  type = "int"
  len = 4
  [[table.column]]
  name = "x"
  type = "int"
  len = 4
  [[table.index]]
  id = 10
  name = "PRIMARY"
  clustered = true
  unique = true
  fields = ["id"]

[[table]]
id = 2
name = "db/child"
  [[table.column]]
  name = "id"
  type = "int"
  len = 4
  [[table.index]]
  id = 20
  name = "PRIMARY"
  clustered = true
  unique = true
  fields = ["id"]
  [[table.foreign]]
  id = "fk1"
  columns = ["id"]
  ref_table = "db/parent"
  ref_columns = ["x"]
`))
	require.NoError(t, err)
	d := dict.NewDictSys(dict.DefaultConfig(), dict.Deps{Loader: l})

	d.Lock()
	defer d.Unlock()
	_, err = l.LoadTableByName(d, "db/parent", dict.IgnoreNone)
	require.NoError(t, err)

	_, err = l.LoadTableByName(d, "db/child", dict.IgnoreNone)
	assert.Equal(t, dict.ErrCannotAddConstraint, jujuerrors.Cause(err))
	assert.Nil(t, d.TableCheckIfInCache("db/child"))

	child, err := l.LoadTableByName(d, "db/child", dict.IgnoreFKNoKey)
	require.NoError(t, err)
	assert.NotNil(t, child.ForeignSet.Find("db/fk1"))
}

func TestParseField(t *testing.T) {
	name, prefix, err := parseField("email(20)")
	require.NoError(t, err)
	assert.Equal(t, "email", name)
	assert.Equal(t, uint32(20), prefix)

	name, prefix, err = parseField(" id ")
	require.NoError(t, err)
	assert.Equal(t, "id", name)
	assert.Equal(t, uint32(0), prefix)

	_, _, err = parseField("email(2x)")
	assert.Equal(t, ErrBadDefinition, errors.Cause(err))
	_, _, err = parseField("email(20")
	assert.Equal(t, ErrBadDefinition, errors.Cause(err))
}

func TestRenameAndDropInCatalog(t *testing.T) {
	l, _ := newShop(t)

	require.NoError(t, l.RenameTable("shop/orders", "shop/orders2"))
	assert.True(t, l.Dirty())

	l.mu.Lock()
	orders := l.findByName("shop/orders2", 0)
	require.NotNil(t, orders)
	assert.Equal(t, "shop/orders2_ibfk_1", orders.Foreigns[0].ID)
	item := l.findByName("shop/order_item", 0)
	assert.Equal(t, "shop/orders2", item.Foreigns[0].RefTable)
	assert.Equal(t, "fk_item_order", item.Foreigns[0].ID)
	l.mu.Unlock()

	err := l.RenameTable("shop/none", "shop/x")
	assert.Equal(t, dict.ErrTableNotFound, jujuerrors.Cause(err))
	err = l.RenameTable("shop/orders2", "shop/customer")
	assert.Equal(t, dict.ErrDuplicateTable, jujuerrors.Cause(err))

	require.NoError(t, l.DropTable("shop/order_item"))
	assert.Equal(t, []string{"shop/customer", "shop/orders2"}, l.TableNames())
	assert.Equal(t, dict.ErrTableNotFound, jujuerrors.Cause(l.DropTable("shop/order_item")))
}

func TestSave(t *testing.T) {
	l, err := Parse([]byte(`
[[table]]
id = 1
name = "db/t"
  [[table.column]]
  name = "a"
  type = "int"
  [[table.index]]
  id = 1
  name = "PRIMARY"
  clustered = true
  fields = ["a"]
`))
	require.NoError(t, err)
	assert.Error(t, l.Save())

	l.path = filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, l.RenameTable("db/t", "db/t2"))
	require.NoError(t, l.Save())
	assert.False(t, l.Dirty())

	data, err := os.ReadFile(l.path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "db/t2"))
}
