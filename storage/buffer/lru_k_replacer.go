package buffer

import (
	"sync"

	"github.com/xstoragedb/xstorage/storage/common"
)

// frameRecord 替换器跟踪的单个帧：最近k次访问的时间戳、
// 首次访问时间戳与可淘汰标记
type frameRecord struct {
	frameID     common.FrameID
	history     []uint64 // 最近k次访问，最旧在前
	firstAccess uint64
	accessCount uint64
	evictable   bool
}

// LRUKReplacer 按backward k-distance选择淘汰帧：
// 访问次数不足k次的帧视为无穷大距离，按首次访问时间做LRU淘汰；
// 其余帧淘汰第k近访问时间最早的那个。
type LRUKReplacer struct {
	mu sync.Mutex

	numFrames        int
	k                int
	currentTimestamp uint64
	curSize          int
	frames           map[common.FrameID]*frameRecord
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	if k <= 0 {
		panic("replacer: k must be positive")
	}
	return &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		frames:    make(map[common.FrameID]*frameRecord, numFrames),
	}
}

// RecordAccess 记录一次帧访问，必要时开始跟踪该帧
func (r *LRUKReplacer) RecordAccess(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assertValid(frameID)
	r.currentTimestamp++

	rec, ok := r.frames[frameID]
	if !ok {
		rec = &frameRecord{frameID: frameID, history: make([]uint64, 0, r.k)}
		r.frames[frameID] = rec
	}
	if rec.accessCount == 0 {
		rec.firstAccess = r.currentTimestamp
	}
	rec.accessCount++
	if len(rec.history) == r.k {
		copy(rec.history, rec.history[1:])
		rec.history = rec.history[:r.k-1]
	}
	rec.history = append(rec.history, r.currentTimestamp)
}

// SetEvictable 翻转帧的可淘汰标记，未跟踪的帧忽略
func (r *LRUKReplacer) SetEvictable(frameID common.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assertValid(frameID)
	r.currentTimestamp++

	rec, ok := r.frames[frameID]
	if !ok || rec.evictable == evictable {
		return
	}
	rec.evictable = evictable
	if evictable {
		r.curSize++
	} else {
		r.curSize--
	}
}

// Evict 选择并移除一个牺牲帧，没有可淘汰帧时返回false
func (r *LRUKReplacer) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTimestamp++

	victim, found := r.findVictim()
	if !found {
		return 0, false
	}
	delete(r.frames, victim)
	r.curSize--
	return victim, true
}

// findVictim 先在访问不足k次的帧里按首次访问时间挑最早的，
// 否则挑第k近访问时间最小（k-distance最大）的帧
func (r *LRUKReplacer) findVictim() (common.FrameID, bool) {
	var (
		infVictim      common.FrameID
		infEarliest    uint64
		infFound       bool
		kVictim        common.FrameID
		kOldestKthTime uint64
		kFound         bool
	)

	for fid, rec := range r.frames {
		if !rec.evictable {
			continue
		}
		if rec.accessCount < uint64(r.k) {
			if !infFound || rec.firstAccess < infEarliest {
				infFound = true
				infEarliest = rec.firstAccess
				infVictim = fid
			}
			continue
		}
		// history[0] 即第k近的访问时间
		kth := rec.history[0]
		if !kFound || kth < kOldestKthTime {
			kFound = true
			kOldestKthTime = kth
			kVictim = fid
		}
	}

	if infFound {
		return infVictim, true
	}
	if kFound {
		return kVictim, true
	}
	return 0, false
}

// Remove 无条件停止跟踪一个帧。
// 对不可淘汰帧调用属于编程错误，直接panic。
func (r *LRUKReplacer) Remove(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assertValid(frameID)
	r.currentTimestamp++

	rec, ok := r.frames[frameID]
	if !ok {
		return
	}
	if !rec.evictable {
		panic("replacer: removing a non-evictable frame")
	}
	delete(r.frames, frameID)
	r.curSize--
}

// Size 返回当前可淘汰帧数量
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curSize
}

func (r *LRUKReplacer) assertValid(frameID common.FrameID) {
	if int(frameID) > r.numFrames || frameID < 0 {
		panic("replacer: invalid frame id")
	}
}
