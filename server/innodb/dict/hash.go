package dict

import (
	"github.com/zhukovaskychina/xmysql-dict/util"
)

// hashTable 链式哈希表，槽位由折叠值取模得到
type hashTable struct {
	cells [][]*Table
	n     int
}

func newHashTable(nCells uint64) *hashTable {
	return &hashTable{
		cells: make([][]*Table, util.FindPrime(nCells)),
	}
}

func (h *hashTable) cellOf(fold uint64) int {
	return int(fold % uint64(len(h.cells)))
}

func (h *hashTable) insert(fold uint64, table *Table) {
	c := h.cellOf(fold)
	h.cells[c] = append(h.cells[c], table)
	h.n++
}

func (h *hashTable) delete(fold uint64, table *Table) bool {
	c := h.cellOf(fold)
	chain := h.cells[c]
	for i, t := range chain {
		if t == table {
			chain[i] = chain[len(chain)-1]
			chain[len(chain)-1] = nil
			h.cells[c] = chain[:len(chain)-1]
			h.n--
			return true
		}
	}
	return false
}

func (h *hashTable) search(fold uint64, match func(*Table) bool) *Table {
	for _, t := range h.cells[h.cellOf(fold)] {
		if match(t) {
			return t
		}
	}
	return nil
}

func (h *hashTable) contains(fold uint64, table *Table) bool {
	return h.search(fold, func(t *Table) bool { return t == table }) != nil
}

// forEach 遍历所有表，fn 中不能修改哈希表
func (h *hashTable) forEach(fn func(*Table)) {
	for _, chain := range h.cells {
		for _, t := range chain {
			fn(t)
		}
	}
}

func (h *hashTable) tables() []*Table {
	out := make([]*Table, 0, h.n)
	h.forEach(func(t *Table) { out = append(out, t) })
	return out
}

func (h *hashTable) count() int {
	return h.n
}

func (h *hashTable) size() int {
	return len(h.cells)
}

func foldName(key string) uint64 {
	return util.FoldString(key)
}

func foldID(id uint64) uint64 {
	return util.FoldUint64(id)
}
