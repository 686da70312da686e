package gateway

import (
	"sync"

	"tradedash/internal/ringbuf"
)

// replayEntry is one envelope sent to a session's client.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one session so a client
// that saw a gap in the seq numbers (a dropped frame on a full send queue)
// can fetch what it missed from /api/missed.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a replay buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores an envelope, evicting the oldest when full. data is copied.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.ring.Push(replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns the envelopes with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	rb.ring.Do(func(e replayEntry) {
		if e.Seq >= from && e.Seq <= to {
			out = append(out, e.Data)
		}
	})
	return out
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
