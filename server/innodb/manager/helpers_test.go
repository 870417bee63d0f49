package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

// cacheTable 建一张 INT 列的表和聚簇索引并放入缓存，调用者持有字典互斥锁
func cacheTable(t *testing.T, d *dict.DictSys, name string, id uint64, flags uint32, cols ...string) *dict.Table {
	table := dict.NewTable(name, uint32(id), len(cols), flags, 0)
	table.ID = id
	for _, c := range cols {
		table.AddCol(c, dict.DataInt, dict.DataNotNull, 4)
	}
	table.AddSystemColumns()
	d.AddTable(table, true)

	draft := dict.NewIndex(name, "PRIMARY", table.SpaceID, dict.IndexClustered|dict.IndexUnique, 1)
	draft.ID = id * 100
	draft.AddField(cols[0], 0)
	_, err := d.IndexAddToCache(table, draft, 3)
	require.NoError(t, err)
	return table
}
