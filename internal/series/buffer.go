// Package series holds the ordered, bounded OHLCV windows that every
// downstream computation reads from. A Buffer owns one (symbol, timeframe)
// series; a Registry owns one Buffer per key.
package series

import (
	"sort"
	"sync"

	"signal-engine/internal/model"
)

// DefaultCapacity is used when a Buffer is created with capacity <= 0.
const DefaultCapacity = 500

// Buffer is a timestamp-ordered, deduplicated, fixed-capacity candle window.
// Append and Window are mutually exclusive; readers always receive a copy.
type Buffer struct {
	mu       sync.RWMutex
	candles  []model.Candle // strictly ascending by TS
	capacity int

	// Counters (guarded by mu, for metrics)
	replaced uint64
	evicted  uint64
}

// NewBuffer creates an empty buffer holding at most capacity candles.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		candles:  make([]model.Candle, 0, capacity),
		capacity: capacity,
	}
}

// Append inserts c by timestamp. A candle with an existing timestamp replaces
// the stored one. When the buffer overflows, the oldest candle is evicted.
// Invalid candles are rejected with *model.InvalidCandleError. A tail
// append is O(1); an out-of-order insert shifts the slice.
func (b *Buffer) Append(c model.Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.TS = c.TS.UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.candles)
	// Fast path: live feeds almost always append at the tail.
	if n == 0 || c.TS.After(b.candles[n-1].TS) {
		b.candles = append(b.candles, c)
		b.evictLocked()
		return nil
	}

	i := sort.Search(n, func(i int) bool { return !b.candles[i].TS.Before(c.TS) })
	if i < n && b.candles[i].TS.Equal(c.TS) {
		b.candles[i] = c
		b.replaced++
		return nil
	}
	if n >= b.capacity && i == 0 {
		// Older than everything in a full buffer: it would be evicted at once.
		b.evicted++
		return nil
	}
	b.candles = append(b.candles, model.Candle{})
	copy(b.candles[i+1:], b.candles[i:])
	b.candles[i] = c
	b.evictLocked()
	return nil
}

func (b *Buffer) evictLocked() {
	over := len(b.candles) - b.capacity
	if over <= 0 {
		return
	}
	copy(b.candles, b.candles[over:])
	b.candles = b.candles[:b.capacity]
	b.evicted += uint64(over)
}

// Window returns a copy of the most recent n candles, or all of them when
// fewer than n are held. Callers that need exactly n use WindowAtLeast.
func (b *Buffer) Window(n int) []model.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]model.Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// WindowAtLeast is like Window but fails with *model.InsufficientDataError
// when fewer than n candles are held.
func (b *Buffer) WindowAtLeast(n int) ([]model.Candle, error) {
	w := b.Window(n)
	if len(w) < n {
		return nil, &model.InsufficientDataError{What: "series window", Need: n, Have: len(w)}
	}
	return w, nil
}

// Len returns the number of candles held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Last returns the newest candle, if any.
func (b *Buffer) Last() (model.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.candles) == 0 {
		return model.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// Stats returns the replace and eviction counters.
func (b *Buffer) Stats() (replaced, evicted uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.replaced, b.evicted
}
