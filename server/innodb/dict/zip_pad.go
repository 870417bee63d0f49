package dict

import (
	"sync"
	"sync/atomic"
)

const (
	// ZipPadRoundLen 每轮统计的压缩次数
	ZipPadRoundLen = 128
	// ZipPadSuccessfulRoundLimit 连续多少轮失败率达标后减小填充
	ZipPadSuccessfulRoundLimit = 5
	// ZipPadIncr 每次调整的填充字节数
	ZipPadIncr = 128
)

// ZipPad 每个索引的压缩页填充估计。
// 失败率超过阈值时增加填充，连续若干轮达标后减少填充
type ZipPad struct {
	mu      sync.Mutex
	pad     atomic.Uint64
	success uint64
	failure uint64
	nRounds uint64
}

// Pad 当前填充字节数
func (z *ZipPad) Pad() uint64 {
	return z.pad.Load()
}

// Rounds 连续达标的轮数
func (z *ZipPad) Rounds() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.nRounds
}

// Success 记录一次压缩成功
func (z *ZipPad) Success(thresholdPct, padMaxPct, pageSize int) {
	if thresholdPct == 0 {
		return
	}
	z.mu.Lock()
	z.success++
	z.update(thresholdPct, padMaxPct, pageSize)
	z.mu.Unlock()
}

// Failure 记录一次压缩失败
func (z *ZipPad) Failure(thresholdPct, padMaxPct, pageSize int) {
	if thresholdPct == 0 {
		return
	}
	z.mu.Lock()
	z.failure++
	z.update(thresholdPct, padMaxPct, pageSize)
	z.mu.Unlock()
}

func (z *ZipPad) update(thresholdPct, padMaxPct, pageSize int) {
	total := z.success + z.failure
	if total < ZipPadRoundLen {
		return
	}

	failPct := z.failure * 100 / total
	z.success = 0
	z.failure = 0

	if failPct > uint64(thresholdPct) {
		// 不超过填充上限
		if z.pad.Load()+ZipPadIncr < uint64(pageSize*padMaxPct/100) {
			z.pad.Add(ZipPadIncr)
		}
		z.nRounds = 0
		return
	}

	z.nRounds++
	if z.nRounds >= ZipPadSuccessfulRoundLimit && z.pad.Load() > 0 {
		z.pad.Add(^uint64(ZipPadIncr - 1))
		z.nRounds = 0
	}
}

// OptimalPageSize 压缩后页面的目标大小
func (z *ZipPad) OptimalPageSize(thresholdPct, padMaxPct, pageSize int) int {
	if thresholdPct == 0 {
		return pageSize
	}
	sz := pageSize - int(z.pad.Load())
	minSz := pageSize * (100 - padMaxPct) / 100
	if sz < minSz {
		return minSz
	}
	return sz
}

// Clone 复制当前填充值，计数从零开始
func (z *ZipPad) Clone() *ZipPad {
	clone := &ZipPad{}
	clone.pad.Store(z.pad.Load())
	return clone
}

// IndexZipSuccess 记录索引的一次压缩成功
func (d *DictSys) IndexZipSuccess(index *Index) {
	index.ZipPad.Success(d.cfg.ZipFailureThresholdPct, d.cfg.ZipPadMaxPct, d.cfg.PageSize)
}

// IndexZipFailure 记录索引的一次压缩失败
func (d *DictSys) IndexZipFailure(index *Index) {
	index.ZipPad.Failure(d.cfg.ZipFailureThresholdPct, d.cfg.ZipPadMaxPct, d.cfg.PageSize)
}

// IndexZipPadOptimalPageSize 索引压缩页的目标大小
func (d *DictSys) IndexZipPadOptimalPageSize(index *Index) int {
	return index.ZipPad.OptimalPageSize(d.cfg.ZipFailureThresholdPct, d.cfg.ZipPadMaxPct, d.cfg.PageSize)
}
