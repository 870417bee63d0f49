package catalog

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
	"github.com/zhukovaskychina/xmysql-dict/util"
)

var (
	_ dict.Loader       = (*TOMLLoader)(nil)
	_ dict.IndexDropper = (*TOMLLoader)(nil)
)

// TOMLLoader 从 TOML 目录文件加载表定义，充当持久化数据字典。
// 加载时已持有字典互斥锁；删除索引、重命名等写操作只修改内存中的目录，Save 写回文件
type TOMLLoader struct {
	mu    sync.Mutex
	path  string
	file  File
	dirty bool
}

// LoadFile 读取目录文件
func LoadFile(path string) (*TOMLLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "catalog %s", path)
	}
	l.path = path
	return l, nil
}

// Parse 解析目录内容
func Parse(data []byte) (*TOMLLoader, error) {
	l := &TOMLLoader{}
	if err := toml.Unmarshal(data, &l.file); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *TOMLLoader) validate() error {
	names := make(map[string]bool)
	ids := make(map[int64]bool)
	for _, def := range l.file.Tables {
		if _, _, ok := dict.ParseTableName(def.Name); !ok {
			return errors.WithMessagef(ErrBadDefinition, "table name %q must be db/table", def.Name)
		}
		if def.ID <= 0 {
			return errors.WithMessagef(ErrBadDefinition, "table %s: id must be positive", def.Name)
		}
		if names[def.Name] || ids[def.ID] {
			return errors.WithMessagef(ErrBadDefinition, "table %s (id %d) defined twice", def.Name, def.ID)
		}
		names[def.Name] = true
		ids[def.ID] = true
		if len(def.Columns) == 0 {
			return errors.WithMessagef(ErrBadDefinition, "table %s has no columns", def.Name)
		}
		if len(def.Indexes) == 0 || !def.Indexes[0].Clustered {
			return errors.WithMessagef(ErrBadDefinition, "table %s: first index must be clustered", def.Name)
		}
	}
	return nil
}

// Path 目录文件路径
func (l *TOMLLoader) Path() string {
	return l.path
}

// Dirty 内存中的目录是否有未保存的修改
func (l *TOMLLoader) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Save 把目录写回文件
func (l *TOMLLoader) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return errors.New("catalog has no file path")
	}
	data, err := toml.Marshal(l.file)
	if err != nil {
		return errors.Wrap(err, "marshal catalog")
	}
	if err := util.WriteFileAtomic(l.path, data); err != nil {
		return errors.Wrapf(err, "write catalog %s", l.path)
	}
	l.dirty = false
	return nil
}

// TableNames 目录中的全部表名，按 id 排序
func (l *TOMLLoader) TableNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	defs := append([]TableDef(nil), l.file.Tables...)
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

func sameName(a, b string, lowerCaseTableNames int) bool {
	if lowerCaseTableNames != 0 {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (l *TOMLLoader) findByName(name string, lowerCaseTableNames int) *TableDef {
	for i := range l.file.Tables {
		if sameName(l.file.Tables[i].Name, name, lowerCaseTableNames) {
			return &l.file.Tables[i]
		}
	}
	return nil
}

func (l *TOMLLoader) findByID(id uint64) *TableDef {
	for i := range l.file.Tables {
		if uint64(l.file.Tables[i].ID) == id {
			return &l.file.Tables[i]
		}
	}
	return nil
}

// LoadTableByName 实现 dict.Loader，目录中没有该表时返回 nil
func (l *TOMLLoader) LoadTableByName(d *dict.DictSys, name string, ignore dict.IgnoreErr) (*dict.Table, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	def := l.findByName(name, d.Config().LowerCaseTableNames)
	if def == nil {
		return nil, nil
	}
	return l.load(d, def, ignore)
}

// LoadTableByID 实现 dict.Loader
func (l *TOMLLoader) LoadTableByID(d *dict.DictSys, id uint64, op dict.TableOp) (*dict.Table, error) {
	if op == dict.TableOpOpenOnlyIfCached {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	def := l.findByID(id)
	if def == nil {
		return nil, nil
	}
	ignore := dict.IgnoreNone
	if op == dict.TableOpDropOrphan {
		ignore = dict.IgnoreCorrupt | dict.IgnoreFKNoKey
	}
	return l.load(d, def, ignore)
}

func (l *TOMLLoader) load(d *dict.DictSys, def *TableDef, ignore dict.IgnoreErr) (*dict.Table, error) {
	if cached := d.TableCheckIfInCache(def.Name); cached != nil {
		return cached, nil
	}

	table, err := buildTable(def)
	if err != nil {
		return nil, err
	}
	d.AddTable(table, true)

	for _, idx := range def.Indexes {
		if err := addIndex(d, table, idx); err != nil {
			if idx.Clustered || !ignore.Has(dict.IgnoreCorrupt) {
				logger.Errorf("Failed to load index %s of table %s: %v", idx.Name, def.Name, err)
				d.TableRemoveFromCache(table, false, false)
				return nil, err
			}
			logger.Warnf("Skip corrupted index %s of table %s: %v", idx.Name, def.Name, err)
		}
	}

	if err := l.loadForeigns(d, def, ignore); err != nil {
		d.TableRemoveFromCache(table, false, false)
		return nil, err
	}
	logger.Debugf("Loaded table %s (id %d) into dictionary cache", def.Name, def.ID)
	return table, nil
}

// loadForeigns 加载表自己的外键，以及已缓存的子表上引用它的外键
func (l *TOMLLoader) loadForeigns(d *dict.DictSys, def *TableDef, ignore dict.IgnoreErr) error {
	lctn := d.Config().LowerCaseTableNames
	for _, fk := range def.Foreigns {
		if err := addForeign(d, def.Name, fk, ignore); err != nil {
			return err
		}
	}
	for i := range l.file.Tables {
		child := &l.file.Tables[i]
		if child == def || d.TableCheckIfInCache(child.Name) == nil {
			continue
		}
		for _, fk := range child.Foreigns {
			if !sameName(fk.RefTable, def.Name, lctn) {
				continue
			}
			if err := addForeign(d, child.Name, fk, ignore); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildTable(def *TableDef) (*dict.Table, error) {
	var flags, flags2 uint32
	if def.Compact {
		flags |= dict.TableFlagCompact
	}
	if def.DataDir != "" {
		flags |= dict.TableFlagDataDir
	}
	if def.FilePerTable {
		flags2 |= dict.TableFlag2UseFilePerTable
	}
	if def.Temporary {
		flags2 |= dict.TableFlag2Temporary
	}
	if def.Encrypted {
		flags2 |= dict.TableFlag2Encryption
	}

	table := dict.NewTable(def.Name, uint32(def.Space), len(def.Columns), flags, flags2)
	table.ID = uint64(def.ID)
	table.DataDirPath = def.DataDir
	for _, c := range def.Columns {
		mtype, prtype, err := c.types()
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", def.Name)
		}
		table.AddCol(c.Name, mtype, prtype, uint32(c.Len))
	}
	for _, v := range def.VColumns {
		mtype, prtype, err := v.column().types()
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", def.Name)
		}
		base := make([]*dict.Column, 0, len(v.Base))
		for _, name := range v.Base {
			col := table.GetColByName(name)
			if col == nil {
				return nil, errors.WithMessagef(ErrBadDefinition, "table %s: virtual column %s base %s not found",
					def.Name, v.Name, name)
			}
			base = append(base, col)
		}
		table.AddVirtualCol(v.Name, mtype, prtype, uint32(v.Len), base)
	}
	table.AddSystemColumns()
	return table, nil
}

func addIndex(d *dict.DictSys, table *dict.Table, def IndexDef) error {
	status, err := def.onlineStatus()
	if err != nil {
		return err
	}
	draft := dict.NewIndex(table.Name, def.Name, table.SpaceID, def.typ(), len(def.Fields))
	draft.ID = uint64(def.ID)
	for _, field := range def.Fields {
		name, prefix, err := parseField(field)
		if err != nil {
			return err
		}
		draft.AddField(name, prefix)
	}
	draft.Uncommitted = def.Uncommitted
	if err := draft.SetOnlineStatus(status); err != nil {
		return errors.WithMessagef(err, "index %s", def.Name)
	}
	if status == dict.OnlineIndexAborted || status == dict.OnlineIndexAbortedDropped {
		table.DropAborted = true
	}
	// 字典缓存的错误原样返回，调用者用 juju errors.Cause 判断
	_, err = d.IndexAddToCache(table, draft, uint32(def.Page))
	return err
}

func foreignID(childName, id string) string {
	if strings.Contains(id, "/") {
		return id
	}
	return dict.DBName(childName) + "/" + id
}

func addForeign(d *dict.DictSys, childName string, def ForeignDef, ignore dict.IgnoreErr) error {
	if len(def.Columns) == 0 || len(def.Columns) != len(def.RefColumns) {
		return errors.WithMessagef(ErrBadDefinition, "foreign key %s of %s: column count mismatch", def.ID, childName)
	}
	typ, err := actionFlags(def.OnDelete, def.OnUpdate)
	if err != nil {
		return errors.WithMessagef(err, "foreign key %s", def.ID)
	}
	foreign := dict.NewForeign(foreignID(childName, def.ID), childName, def.RefTable, def.Columns, def.RefColumns, typ)
	_, err = d.ForeignAddToCache(foreign, nil, true, ignore)
	return err
}

// DropIndex 实现 dict.IndexDropper，从目录中删除索引定义
func (l *TOMLLoader) DropIndex(table *dict.Table, index *dict.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	def := l.findByID(table.ID)
	if def == nil {
		return nil
	}
	for i, idx := range def.Indexes {
		if uint64(idx.ID) == index.ID {
			def.Indexes = append(def.Indexes[:i], def.Indexes[i+1:]...)
			l.dirty = true
			logger.Infof("Dropped index %s of table %s from catalog", index.Name, table.Name)
			return nil
		}
	}
	return nil
}

// DropOrphanIndexes 实现 dict.IndexDropper，删除在线建索引失败留下的定义
func (l *TOMLLoader) DropOrphanIndexes(tableID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	def := l.findByID(tableID)
	if def == nil {
		return nil
	}
	kept := def.Indexes[:0]
	for _, idx := range def.Indexes {
		status, err := idx.onlineStatus()
		if err == nil && (status == dict.OnlineIndexAborted || status == dict.OnlineIndexAbortedDropped) {
			l.dirty = true
			continue
		}
		kept = append(kept, idx)
	}
	def.Indexes = kept
	return nil
}

// RenameTable 重命名目录中的表，同时改写引用它的外键和由旧表名生成的外键 ID
func (l *TOMLLoader) RenameTable(oldName, newName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	def := l.findByName(oldName, 0)
	if def == nil {
		return errors.WithMessagef(dict.ErrTableNotFound, "catalog has no table %s", oldName)
	}
	if l.findByName(newName, 0) != nil {
		return errors.WithMessagef(dict.ErrDuplicateTable, "catalog already has table %s", newName)
	}
	def.Name = newName
	for i := range def.Foreigns {
		id := foreignID(oldName, def.Foreigns[i].ID)
		if strings.HasPrefix(id, oldName+"_ibfk_") {
			def.Foreigns[i].ID = newName + strings.TrimPrefix(id, oldName)
		}
	}
	for i := range l.file.Tables {
		for j := range l.file.Tables[i].Foreigns {
			if l.file.Tables[i].Foreigns[j].RefTable == oldName {
				l.file.Tables[i].Foreigns[j].RefTable = newName
			}
		}
	}
	l.dirty = true
	return nil
}

// DropTable 从目录中删除表
func (l *TOMLLoader) DropTable(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.file.Tables {
		if l.file.Tables[i].Name == name {
			l.file.Tables = append(l.file.Tables[:i], l.file.Tables[i+1:]...)
			l.dirty = true
			return nil
		}
	}
	return errors.WithMessagef(dict.ErrTableNotFound, "catalog has no table %s", name)
}
