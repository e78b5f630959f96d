package gateway

import "sync"

// replayEntry holds a single broadcasted envelope.
type replayEntry struct {
	Seq     int64
	Channel string
	Data    []byte
}

// ReplayBuffer is a fixed-size circular buffer of recent envelopes, so a
// client that connects mid-run can catch up from a known seq.
//
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope, overwriting the oldest entry when full. The
// buffer keeps data as given; callers must not mutate it afterwards.
func (rb *ReplayBuffer) Push(seq int64, channel string, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = replayEntry{Seq: seq, Channel: channel, Data: data}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 {
		rb.full = true
	}
}

// Range returns the entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	for i, n := 0, rb.len(); i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
