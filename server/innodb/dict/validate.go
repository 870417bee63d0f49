package dict

import (
	"github.com/juju/errors"
)

// ValidateLRU 校验缓存的链表、哈希表与外键关系的一致性
func (d *DictSys) ValidateLRU() error {
	d.assertLocked()

	check := func(table *Table, evictable bool) error {
		if table.canBeEvicted != evictable {
			return errors.Errorf("%s: evictable flag %v but on wrong list", table, table.canBeEvicted)
		}
		if !table.Cached {
			return errors.Errorf("%s on list but not cached", table)
		}
		if !d.tableHash.contains(foldName(table.lookupKey), table) {
			return errors.Errorf("%s missing from name hash", table)
		}
		if !d.idHashFor(table).contains(foldID(table.ID), table) {
			return errors.Errorf("%s missing from id hash", table)
		}
		return d.validateForeigns(table)
	}

	n := 0
	for e := d.lru.Front(); e != nil; e = e.Next() {
		if err := check(e.Value.(*Table), true); err != nil {
			return err
		}
		n++
	}
	for e := d.nonLRU.Front(); e != nil; e = e.Next() {
		if err := check(e.Value.(*Table), false); err != nil {
			return err
		}
		n++
	}

	if d.tableHash.count() != n {
		return errors.Errorf("name hash holds %d tables, lists hold %d", d.tableHash.count(), n)
	}
	if ids := d.tableIDHash.count() + d.tempIDHash.count(); ids != n {
		return errors.Errorf("id hashes hold %d tables, lists hold %d", ids, n)
	}
	return nil
}

func (d *DictSys) validateForeigns(table *Table) error {
	for id, foreign := range table.ForeignSet {
		if foreign.ID != id {
			return errors.Errorf("%s: foreign key keyed %s has id %s", table, id, foreign.ID)
		}
		if foreign.ForeignTable != table {
			return errors.Errorf("%s: foreign key %s points to another table", table, id)
		}
		if ref := foreign.ReferencedTable; ref != nil {
			if !ref.Cached {
				return errors.Errorf("%s: foreign key %s references an evicted table", table, id)
			}
			if !ref.ReferencedSet.Contains(foreign) {
				return errors.Errorf("%s: foreign key %s missing from %s referenced set", table, id, ref.Name)
			}
		}
	}
	for id, foreign := range table.ReferencedSet {
		if foreign.ReferencedTable != table {
			return errors.Errorf("%s: referencing foreign key %s points to another table", table, id)
		}
		if tbl := foreign.ForeignTable; tbl != nil {
			if !tbl.Cached || !tbl.ForeignSet.Contains(foreign) {
				return errors.Errorf("%s: referencing foreign key %s missing from %s", table, id, tbl.Name)
			}
		}
	}
	if clust := table.FirstIndex(); clust != nil && clust.IsClustered() {
		want := clust.NUserDefinedCols
		if !clust.IsUnique() {
			want++
		}
		if clust.NUniq != want {
			return errors.Errorf("%s: clustered index n_uniq %d, expected %d", table, clust.NUniq, want)
		}
	}
	return nil
}

// CheckForDupIndexes 检查表中是否有同名索引以及未提交索引的状态是否符合 mode
func (d *DictSys) CheckForDupIndexes(table *Table, mode CheckMode) error {
	d.assertLocked()

	names := make(map[string]struct{}, len(table.Indexes))
	for _, index := range table.Indexes {
		if !index.IsCommitted() {
			if index.IsClustered() {
				return errors.Annotatef(ErrInvalidOnlineStatus, "uncommitted clustered index %s", index.Name)
			}
			switch mode {
			case CheckAllComplete:
				return errors.Annotatef(ErrInvalidOnlineStatus, "uncommitted index %s", index.Name)
			case CheckAbortedOK:
				if index.onlineStatus < OnlineIndexAborted {
					return errors.Annotatef(ErrInvalidOnlineStatus, "index %s is %v", index.Name, index.onlineStatus)
				}
			}
		}
		if _, ok := names[index.Name]; ok {
			return errors.Annotatef(ErrDuplicateIndex, "index %s of table %s", index.Name, table.Name)
		}
		names[index.Name] = struct{}{}
	}
	return nil
}
