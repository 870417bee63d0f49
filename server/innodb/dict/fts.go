package dict

import (
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/latch"
)

// FTSIndexCache 单个全文索引的内存缓存
type FTSIndexCache struct {
	Index *Index
}

// FTSCache 表级全文索引缓存
type FTSCache struct {
	initLock *latch.Latch
	indexes  []*FTSIndexCache
}

// FTS 表的全文索引信息
type FTS struct {
	Indexes []*Index
	Cache   *FTSCache
}

func newFTS() *FTS {
	return &FTS{}
}

func newFTSCache() *FTSCache {
	return &FTSCache{initLock: latch.NewLatch()}
}

// IndexCache 返回索引对应的缓存
func (c *FTSCache) IndexCache(index *Index) *FTSIndexCache {
	c.initLock.RLock()
	defer c.initLock.RUnlock()
	for _, ic := range c.indexes {
		if ic.Index == index {
			return ic
		}
	}
	return nil
}

// Len 缓存中的索引数
func (c *FTSCache) Len() int {
	c.initLock.RLock()
	defer c.initLock.RUnlock()
	return len(c.indexes)
}

func (c *FTSCache) addIndex(index *Index) {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	for _, ic := range c.indexes {
		if ic.Index == index {
			return
		}
	}
	c.indexes = append(c.indexes, &FTSIndexCache{Index: index})
}

func (c *FTSCache) removeIndex(index *Index) {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	for i, ic := range c.indexes {
		if ic.Index == index {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return
		}
	}
}

// HasIndex 全文索引是否已登记
func (fts *FTS) HasIndex(index *Index) bool {
	for _, idx := range fts.Indexes {
		if idx == index {
			return true
		}
	}
	return false
}

// addIndex 登记全文索引并创建对应的缓存
func (fts *FTS) addIndex(index *Index) {
	if fts.Cache == nil {
		fts.Cache = newFTSCache()
	}
	if !fts.HasIndex(index) {
		fts.Indexes = append(fts.Indexes, index)
	}
	fts.Cache.addIndex(index)
}

func (fts *FTS) removeIndex(index *Index) {
	for i, idx := range fts.Indexes {
		if idx == index {
			fts.Indexes = append(fts.Indexes[:i], fts.Indexes[i+1:]...)
			break
		}
	}
	if fts.Cache != nil {
		fts.Cache.removeIndex(index)
	}
}
