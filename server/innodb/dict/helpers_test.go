package dict

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLockSys struct {
	mu     sync.Mutex
	locked map[uint64]bool
}

func newFakeLockSys() *fakeLockSys {
	return &fakeLockSys{locked: make(map[uint64]bool)}
}

func (f *fakeLockSys) TableHasLocks(tableID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[tableID]
}

func (f *fakeLockSys) set(tableID uint64, locked bool) {
	f.mu.Lock()
	f.locked[tableID] = locked
	f.mu.Unlock()
}

type fakeDropper struct {
	mu      sync.Mutex
	dropped []string
	orphans []uint64
	dropErr error
}

func (f *fakeDropper) DropIndex(table *Table, index *Index) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped = append(f.dropped, index.Name)
	return nil
}

func (f *fakeDropper) DropOrphanIndexes(tableID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans = append(f.orphans, tableID)
	return nil
}

type fakeFiles struct {
	renames [][2]string
	err     error
}

func (f *fakeFiles) RenameTablespace(spaceID uint32, oldName, newName, dataDir string) error {
	if f.err != nil {
		return f.err
	}
	f.renames = append(f.renames, [2]string{oldName, newName})
	return nil
}

type fakeZipStats struct {
	erased []uint64
}

func (f *fakeZipStats) EraseIndex(indexID uint64) {
	f.erased = append(f.erased, indexID)
}

// fakeLoader 把预先准备好的表定义放入缓存
type fakeLoader struct {
	byName map[string]func(d *DictSys) *Table
	byID   map[uint64]string
	calls  int
}

func (l *fakeLoader) LoadTableByName(d *DictSys, name string, ignore IgnoreErr) (*Table, error) {
	l.calls++
	build, ok := l.byName[name]
	if !ok {
		return nil, nil
	}
	return build(d), nil
}

func (l *fakeLoader) LoadTableByID(d *DictSys, id uint64, op TableOp) (*Table, error) {
	name, ok := l.byID[id]
	if !ok {
		return nil, nil
	}
	return l.LoadTableByName(d, name, IgnoreNone)
}

type fakeTicket struct {
	key MDLKey
}

func (t *fakeTicket) Key() MDLKey {
	return t.key
}

// fakeMDL 记录加锁请求，onAcquire 在授予锁之前执行
type fakeMDL struct {
	mu          sync.Mutex
	requests    []MDLKey
	held        map[*fakeTicket]bool
	unavailable bool
	onAcquire   func(n int, key MDLKey)
}

func newFakeMDL() *fakeMDL {
	return &fakeMDL{held: make(map[*fakeTicket]bool)}
}

func (m *fakeMDL) AcquireShared(ctx context.Context, key MDLKey, nowait bool) (MDLTicket, error) {
	m.mu.Lock()
	m.requests = append(m.requests, key)
	n := len(m.requests)
	hook := m.onAcquire
	unavailable := m.unavailable
	m.mu.Unlock()

	if nowait && unavailable {
		return nil, ErrLockUnavailable
	}
	if hook != nil {
		hook(n, key)
	}
	ticket := &fakeTicket{key: key}
	m.mu.Lock()
	m.held[ticket] = true
	m.mu.Unlock()
	return ticket, nil
}

func (m *fakeMDL) Release(ticket MDLTicket) {
	m.mu.Lock()
	delete(m.held, ticket.(*fakeTicket))
	m.mu.Unlock()
}

func (m *fakeMDL) heldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

func newTestDict(t *testing.T, deps Deps) *DictSys {
	cfg := DefaultConfig()
	cfg.BufferPoolSize = 1 << 20
	d := NewDictSys(cfg, deps)
	t.Cleanup(func() {
		d.WaitBackground()
	})
	return d
}

// newTestTable 创建一张 INT 列的表，系统列已追加
func newTestTable(name string, id uint64, cols ...string) *Table {
	table := NewTable(name, uint32(id), len(cols), TableFlagCompact, 0)
	table.ID = id
	for _, c := range cols {
		table.AddCol(c, DataInt, DataNotNull, 4)
	}
	table.AddSystemColumns()
	return table
}

// addIndex 物化索引并断言成功
func addIndex(t *testing.T, d *DictSys, table *Table, id uint64, name string, typ uint32, fields ...string) *Index {
	draft := NewIndex(table.Name, name, table.SpaceID, typ, len(fields))
	draft.ID = id
	for _, f := range fields {
		draft.AddField(f, 0)
	}
	index, err := d.IndexAddToCache(table, draft, 3)
	require.NoError(t, err)
	return index
}

// cacheTable 建表、建聚簇索引并放入缓存
func cacheTable(t *testing.T, d *DictSys, name string, id uint64, cols ...string) *Table {
	table := newTestTable(name, id, cols...)
	d.AddTable(table, true)
	addIndex(t, d, table, id*100, "PRIMARY", IndexClustered|IndexUnique, cols[0])
	return table
}

func fieldNames(index *Index) []string {
	names := make([]string, 0, len(index.Fields))
	for _, f := range index.Fields {
		names = append(names, f.Col.Name)
	}
	return names
}
