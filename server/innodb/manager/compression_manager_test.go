package manager

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

const testPageSize = 16384

func newZipDict(t *testing.T, cm *CompressionManager) (*dict.DictSys, *dict.Table) {
	d := dict.NewDictSys(dict.DefaultConfig(), dict.Deps{ZipStats: cm})
	t.Cleanup(d.WaitBackground)
	cm.SetPadController(d)

	d.Lock()
	defer d.Unlock()
	// KEY_BLOCK_SIZE=8
	table := cacheTable(t, d, "db/zip", 5, dict.TableFlagCompact|4<<1, "a", "b")
	draft := dict.NewIndex(table.Name, "k_b", table.SpaceID, 0, 1)
	draft.ID = 501
	draft.AddField("b", 0)
	_, err := d.IndexAddToCache(table, draft, 4)
	require.NoError(t, err)
	return d, table
}

func TestParseCompressionMethod(t *testing.T) {
	for name, want := range map[string]uint8{
		"":       COMPRESSION_NONE,
		"none":   COMPRESSION_NONE,
		"ZLIB":   COMPRESSION_ZLIB,
		"snappy": COMPRESSION_SNAPPY,
		"lz4":    COMPRESSION_LZ4,
	} {
		got, err := ParseCompressionMethod(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseCompressionMethod("brotli")
	assert.Equal(t, ErrUnsupportedCompression, errors.Cause(err))
}

func TestCompressionRoundTrip(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_ZLIB, testPageSize)
	_, table := newZipDict(t, cm)
	index := table.Indexes[0]
	page := bytes.Repeat([]byte("xmysql dictionary page "), 600)

	for _, method := range []uint8{COMPRESSION_ZLIB, COMPRESSION_SNAPPY, COMPRESSION_LZ4} {
		cm.SetCompressionSettings(index.SpaceID, &CompressionSettings{
			SpaceID: index.SpaceID,
			Method:  method,
			Level:   COMPRESSION_LEVEL_FASTEST,
		})
		compressed, ok, err := cm.CompressPage(index, page)
		require.NoError(t, err)
		require.True(t, ok, "method %d", method)
		assert.Less(t, len(compressed), len(page))

		restored, err := cm.DecompressPage(index, compressed)
		require.NoError(t, err)
		assert.Equal(t, page, restored, "method %d", method)
	}

	stats := cm.GetStats()
	assert.Equal(t, uint64(3), stats.CompressedPages)
	assert.Zero(t, stats.FailureCount)
	assert.Greater(t, stats.AvgSavings(), 0.5)

	s, ok := cm.IndexStats(index.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.CompressedOK)
	assert.Equal(t, uint64(3), s.DecompressOps)
}

func TestCompressionNoneAndPlainPages(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_NONE, testPageSize)
	_, table := newZipDict(t, cm)
	index := table.Indexes[0]
	page := []byte("plain page")

	out, ok, err := cm.CompressPage(index, page)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, page, out)

	out, err = cm.DecompressPage(index, page)
	require.NoError(t, err)
	assert.Equal(t, page, out)
	assert.Equal(t, COMPRESSION_NONE, cm.GetCompressionSettings(index.SpaceID).Method)
}

func TestDecompressCorruptPage(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_SNAPPY, testPageSize)
	_, table := newZipDict(t, cm)
	index := table.Indexes[0]

	compressed, ok, err := cm.CompressPage(index, bytes.Repeat([]byte{7}, 4096))
	require.NoError(t, err)
	require.True(t, ok)

	compressed[len(compressed)-1] ^= 0xff
	compressed[headerSize] ^= 0xff
	_, err = cm.DecompressPage(index, compressed)
	assert.Equal(t, ErrCorruptCompressedPage, errors.Cause(err))

	compressed[methodOffset] = 42
	_, err = cm.DecompressPage(index, compressed)
	assert.Equal(t, ErrUnsupportedCompression, errors.Cause(err))
}

func TestDecompressRejectsOversizedPage(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_ZLIB, testPageSize)
	_, table := newZipDict(t, cm)
	index := table.Indexes[0]

	compressed, ok, err := cm.CompressPage(index, bytes.Repeat([]byte{1}, 1024))
	require.NoError(t, err)
	require.True(t, ok)

	binary.BigEndian.PutUint32(compressed[sizeOffset:], 1<<31)
	_, err = cm.DecompressPage(index, compressed)
	assert.Equal(t, ErrCorruptCompressedPage, errors.Cause(err))
}

func TestCompressionFailuresGrowPad(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_SNAPPY, testPageSize)
	d, table := newZipDict(t, cm)
	index := table.Indexes[1]

	page := make([]byte, testPageSize)
	rand.New(rand.NewSource(1)).Read(page)

	assert.Equal(t, testPageSize, d.IndexZipPadOptimalPageSize(index))
	for i := 0; i < dict.ZipPadRoundLen; i++ {
		out, ok, err := cm.CompressPage(index, page)
		require.NoError(t, err)
		require.False(t, ok)
		assert.Nil(t, out)
	}

	assert.Equal(t, uint64(dict.ZipPadIncr), index.ZipPad.Pad())
	assert.Equal(t, testPageSize-dict.ZipPadIncr, d.IndexZipPadOptimalPageSize(index))
	assert.Equal(t, uint64(dict.ZipPadRoundLen), cm.GetStats().FailureCount)
}

func TestCompressionStatsErasedWithIndex(t *testing.T) {
	cm := NewCompressionManager(COMPRESSION_LZ4, testPageSize)
	d, table := newZipDict(t, cm)
	index := table.Indexes[1]

	_, ok, err := cm.CompressPage(index, bytes.Repeat([]byte("abcd"), 1024))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok = cm.IndexStats(index.ID)
	require.True(t, ok)

	d.Lock()
	d.IndexRemoveFromCache(table, index)
	d.Unlock()

	_, ok = cm.IndexStats(index.ID)
	assert.False(t, ok)
	require.NoError(t, cm.Close())
}
