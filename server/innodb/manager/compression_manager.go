package manager

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

var _ dict.PageZipStats = (*CompressionManager)(nil)

// innodb_compression_algorithm 的取值，同时写在压缩页头里
const (
	COMPRESSION_NONE uint8 = iota
	COMPRESSION_ZLIB
	COMPRESSION_SNAPPY
	COMPRESSION_LZ4
)

// zlib 级别，对应 innodb_compression_level
const (
	COMPRESSION_LEVEL_FASTEST uint8 = 1
	COMPRESSION_LEVEL_DEFAULT uint8 = 6
	COMPRESSION_LEVEL_BEST    uint8 = 9
)

// 压缩页头: magic(4) method(1) 原始长度(4, 大端)
var pageMagic = [4]byte{0xC0, 0x4D, 0x50, 0x52}

const (
	methodOffset = len(pageMagic)
	sizeOffset   = methodOffset + 1
	headerSize   = sizeOffset + 4
)

// pageCodec 一种页压缩算法。encode 返回 nil 表示数据不可压缩
type pageCodec struct {
	encode func(src []byte, level uint8) ([]byte, error)
	decode func(src []byte, size int) ([]byte, error)
}

var codecs = map[uint8]pageCodec{
	COMPRESSION_ZLIB:   {encode: zlibEncode, decode: zlibDecode},
	COMPRESSION_SNAPPY: {encode: snappyEncode, decode: snappyDecode},
	COMPRESSION_LZ4:    {encode: lz4Encode, decode: lz4Decode},
}

// 压缩输出缓冲
var zlibBuffers = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

func zlibEncode(src []byte, level uint8) ([]byte, error) {
	buf := zlibBuffers.Get().(*bytes.Buffer)
	defer zlibBuffers.Put(buf)
	buf.Reset()

	w, err := zlib.NewWriterLevel(buf, int(level))
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(src); err == nil {
		err = w.Close()
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func zlibDecode(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]byte, size)
	_, err = io.ReadFull(r, out)
	return out, err
}

func snappyEncode(src []byte, _ uint8) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func snappyDecode(src []byte, _ int) ([]byte, error) {
	return snappy.Decode(nil, src)
}

func lz4Encode(src []byte, _ uint8) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil || n == 0 {
		return nil, err
	}
	return dst[:n], nil
}

func lz4Decode(src []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src, out)
	return out[:n], err
}

// ParseCompressionMethod 解析 innodb_compression_algorithm
func ParseCompressionMethod(name string) (uint8, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return COMPRESSION_NONE, nil
	case "zlib":
		return COMPRESSION_ZLIB, nil
	case "snappy":
		return COMPRESSION_SNAPPY, nil
	case "lz4":
		return COMPRESSION_LZ4, nil
	}
	return 0, errors.Annotatef(ErrUnsupportedCompression, "%q", name)
}

// ZipPadController 按索引调整压缩填充，由 dict.DictSys 实现
type ZipPadController interface {
	IndexZipSuccess(index *dict.Index)
	IndexZipFailure(index *dict.Index)
	IndexZipPadOptimalPageSize(index *dict.Index) int
}

// CompressionSettings 表空间的压缩设置
type CompressionSettings struct {
	SpaceID uint32 // 表空间ID
	Method  uint8  // 压缩方法
	Level   uint8  // 压缩级别，只对 zlib 有效
}

// IndexZipStats 单个索引的压缩统计，对应 INNODB_CMP_PER_INDEX
type IndexZipStats struct {
	CompressedOps  uint64
	CompressedOK   uint64
	CompressTime   time.Duration
	DecompressOps  uint64
	DecompressTime time.Duration
}

// CompressionStats 全局压缩统计
type CompressionStats struct {
	TotalPages      uint64 // 压缩尝试次数
	CompressedPages uint64 // 压缩成功页面数
	TotalSize       uint64 // 成功页面的原始大小
	CompressedSize  uint64 // 成功页面压缩后大小
	FailureCount    uint64 // 压缩失败次数
}

// AvgSavings 平均压缩率
func (s CompressionStats) AvgSavings() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return 1 - float64(s.CompressedSize)/float64(s.TotalSize)
}

// CompressionManager 管理页面压缩。
// 压缩后放不进索引当前的最佳页大小视为失败，结果反馈给填充控制器
type CompressionManager struct {
	mu sync.RWMutex

	defaultMethod uint8
	pageSize      int
	pad           ZipPadController

	spaceSettings map[uint32]*CompressionSettings // space_id -> 设置
	indexStats    map[uint64]*IndexZipStats       // index_id -> 统计
	stats         CompressionStats
}

// NewCompressionManager 创建压缩管理器
func NewCompressionManager(defaultMethod uint8, pageSize int) *CompressionManager {
	cm := &CompressionManager{defaultMethod: defaultMethod, pageSize: pageSize}
	cm.reset()
	return cm
}

// SetPadController 设置填充控制器
func (cm *CompressionManager) SetPadController(pad ZipPadController) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.pad = pad
}

func (cm *CompressionManager) reset() {
	cm.spaceSettings = make(map[uint32]*CompressionSettings)
	cm.indexStats = make(map[uint64]*IndexZipStats)
}

// SetCompressionSettings 表空间单独使用的压缩方法和级别
func (cm *CompressionManager) SetCompressionSettings(spaceID uint32, settings *CompressionSettings) {
	cm.mu.Lock()
	cm.spaceSettings[spaceID] = settings
	cm.mu.Unlock()
}

// GetCompressionSettings 获取表空间的压缩设置，没有单独设置时使用默认方法
func (cm *CompressionManager) GetCompressionSettings(spaceID uint32) CompressionSettings {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if s, ok := cm.spaceSettings[spaceID]; ok {
		return *s
	}
	return CompressionSettings{SpaceID: spaceID, Method: cm.defaultMethod, Level: COMPRESSION_LEVEL_DEFAULT}
}

// pageLimit 索引当前允许的压缩页大小
func (cm *CompressionManager) pageLimit(index *dict.Index) int {
	cm.mu.RLock()
	pad := cm.pad
	cm.mu.RUnlock()
	if pad == nil {
		return cm.pageSize
	}
	return pad.IndexZipPadOptimalPageSize(index)
}

func (cm *CompressionManager) report(index *dict.Index, ok bool) {
	cm.mu.RLock()
	pad := cm.pad
	cm.mu.RUnlock()
	if pad == nil {
		return
	}
	if ok {
		pad.IndexZipSuccess(index)
	} else {
		pad.IndexZipFailure(index)
	}
}

// CompressPage 压缩索引页。
// ok 为 false 表示压缩后超过了索引的最佳页大小，调用者需要分裂页面
func (cm *CompressionManager) CompressPage(index *dict.Index, data []byte) (page []byte, ok bool, err error) {
	settings := cm.GetCompressionSettings(index.SpaceID)
	if settings.Method == COMPRESSION_NONE {
		return data, true, nil
	}
	codec, known := codecs[settings.Method]
	if !known {
		return nil, false, errors.Annotatef(ErrUnsupportedCompression, "method %d", settings.Method)
	}

	start := time.Now()
	body, err := codec.encode(data, settings.Level)
	if err != nil {
		return nil, false, errors.Annotatef(err, "compress page of index %s", index.Name)
	}

	size := headerSize + len(body)
	ok = body != nil && size <= cm.pageLimit(index)
	cm.updateStats(index.ID, len(data), size, ok, time.Since(start))
	cm.report(index, ok)
	if !ok {
		return nil, false, nil
	}

	page = make([]byte, size)
	copy(page, pageMagic[:])
	page[methodOffset] = settings.Method
	binary.BigEndian.PutUint32(page[sizeOffset:], uint32(len(data)))
	copy(page[headerSize:], body)
	return page, true, nil
}

// DecompressPage 解压页面，没有压缩页头的页面原样返回
func (cm *CompressionManager) DecompressPage(index *dict.Index, data []byte) ([]byte, error) {
	if len(data) < headerSize || !bytes.Equal(data[:methodOffset], pageMagic[:]) {
		return data, nil
	}
	method := data[methodOffset]
	codec, known := codecs[method]
	if !known {
		return nil, errors.Annotatef(ErrUnsupportedCompression, "method %d", method)
	}

	start := time.Now()
	want := int(binary.BigEndian.Uint32(data[sizeOffset:headerSize]))
	if cm.pageSize > 0 && want > cm.pageSize {
		return nil, errors.Annotatef(ErrCorruptCompressedPage, "index %s: size %d exceeds page size %d",
			index.Name, want, cm.pageSize)
	}
	out, err := codec.decode(data[headerSize:], want)
	switch {
	case err != nil:
		return nil, errors.Annotatef(ErrCorruptCompressedPage, "index %s: %v", index.Name, err)
	case len(out) != want:
		return nil, errors.Annotatef(ErrCorruptCompressedPage, "index %s: size %d, want %d",
			index.Name, len(out), want)
	}

	cm.mu.Lock()
	s := cm.indexStatsLocked(index.ID)
	s.DecompressOps++
	s.DecompressTime += time.Since(start)
	cm.mu.Unlock()
	return out, nil
}

func (cm *CompressionManager) indexStatsLocked(indexID uint64) *IndexZipStats {
	s := cm.indexStats[indexID]
	if s == nil {
		s = &IndexZipStats{}
		cm.indexStats[indexID] = s
	}
	return s
}

// updateStats 记一次压缩尝试。失败的尝试不计入大小
func (cm *CompressionManager) updateStats(indexID uint64, originalSize, compressedSize int, ok bool, elapsed time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	s := cm.indexStatsLocked(indexID)
	s.CompressedOps++
	s.CompressTime += elapsed
	g := &cm.stats
	g.TotalPages++
	if ok {
		s.CompressedOK++
		g.CompressedPages++
		g.TotalSize += uint64(originalSize)
		g.CompressedSize += uint64(compressedSize)
	} else {
		g.FailureCount++
	}
}

// EraseIndex 索引从字典缓存移除时清除它的统计
func (cm *CompressionManager) EraseIndex(indexID uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.indexStats, indexID)
}

// IndexStats 获取索引的压缩统计
func (cm *CompressionManager) IndexStats(indexID uint64) (IndexZipStats, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	s, ok := cm.indexStats[indexID]
	if !ok {
		return IndexZipStats{}, false
	}
	return *s, true
}

// GetStats 全局压缩统计
func (cm *CompressionManager) GetStats() CompressionStats {
	cm.mu.RLock()
	s := cm.stats
	cm.mu.RUnlock()
	return s
}

// Close 清空设置和统计，断开填充控制器
func (cm *CompressionManager) Close() error {
	cm.mu.Lock()
	cm.reset()
	cm.pad = nil
	cm.mu.Unlock()
	return nil
}
