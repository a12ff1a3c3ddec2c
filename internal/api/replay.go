package api

import "sync"

// ReplayBuffer keeps the most recent envelopes of one channel, indexed by
// channel_seq, so clients can fill gaps after a reconnect. Sequences are
// expected to arrive contiguous; a jump starts the buffer over.
type ReplayBuffer struct {
	mu    sync.Mutex
	ring  [][]byte
	head  int   // physical index of the oldest entry
	n     int   // entries held
	first int64 // seq of the oldest entry
}

// NewReplayBuffer creates a replay buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayDepth
	}
	return &ReplayBuffer{ring: make([][]byte, capacity)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n > 0 && seq != rb.first+int64(rb.n) {
		rb.head, rb.n = 0, 0
	}
	if rb.n == 0 {
		rb.first = seq
	}
	if rb.n < len(rb.ring) {
		rb.ring[(rb.head+rb.n)%len(rb.ring)] = cp
		rb.n++
		return
	}
	rb.ring[rb.head] = cp
	rb.head = (rb.head + 1) % len(rb.ring)
	rb.first++
}

// Range returns envelopes with seq in [fromSeq, toSeq], oldest first.
// truncated reports that part of the range was already evicted.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) (out [][]byte, truncated bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n == 0 || fromSeq > toSeq {
		return nil, false
	}
	if fromSeq < rb.first {
		truncated = true
		fromSeq = rb.first
	}
	if last := rb.first + int64(rb.n) - 1; toSeq > last {
		toSeq = last
	}
	for seq := fromSeq; seq <= toSeq; seq++ {
		out = append(out, rb.ring[(rb.head+int(seq-rb.first))%len(rb.ring)])
	}
	return out, truncated
}

// Oldest returns the lowest seq still held.
func (rb *ReplayBuffer) Oldest() (int64, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.first, rb.n > 0
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}
