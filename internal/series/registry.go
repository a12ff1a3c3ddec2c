package series

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"signal-engine/internal/model"
)

// Registry owns one Buffer per (symbol, timeframe). The key map has its own
// lock, so operations on different keys never block each other.
type Registry struct {
	mu       sync.RWMutex
	buffers  map[model.SeriesKey]*Buffer
	capacity int
}

// NewRegistry creates a registry whose buffers hold capacity candles each.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		buffers:  make(map[model.SeriesKey]*Buffer),
		capacity: capacity,
	}
}

// Buffer returns the buffer for key, creating it on first use.
func (r *Registry) Buffer(key model.SeriesKey) *Buffer {
	r.mu.RLock()
	b, ok := r.buffers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.buffers[key]; ok {
		return b
	}
	b = NewBuffer(r.capacity)
	r.buffers[key] = b
	return b
}

// Append adds a candle to the (symbol, tf) series.
func (r *Registry) Append(symbol string, tf model.Timeframe, c model.Candle) error {
	if err := r.Buffer(model.SeriesKey{Symbol: symbol, Timeframe: tf}).Append(c); err != nil {
		return fmt.Errorf("append %s:%s: %w", symbol, tf, err)
	}
	return nil
}

// AppendAll adds candles in order and stops at the first invalid one.
func (r *Registry) AppendAll(symbol string, tf model.Timeframe, candles []model.Candle) error {
	b := r.Buffer(model.SeriesKey{Symbol: symbol, Timeframe: tf})
	for _, c := range candles {
		if err := b.Append(c); err != nil {
			return fmt.Errorf("append %s:%s: %w", symbol, tf, err)
		}
	}
	return nil
}

// Window returns a copy of up to n most recent candles for (symbol, tf).
func (r *Registry) Window(symbol string, tf model.Timeframe, n int) []model.Candle {
	key := model.SeriesKey{Symbol: symbol, Timeframe: tf}
	r.mu.RLock()
	b, ok := r.buffers[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Window(n)
}

// FetchWindow serves the registry as a model.CandleSource. It returns the
// full held window, or *model.InsufficientDataError when fewer than
// minLength candles exist.
func (r *Registry) FetchWindow(_ context.Context, symbol string, tf model.Timeframe, minLength int) ([]model.Candle, error) {
	w := r.Window(symbol, tf, 0)
	if len(w) < minLength {
		return nil, &model.InsufficientDataError{
			What: model.SeriesKey{Symbol: symbol, Timeframe: tf}.String(),
			Need: minLength,
			Have: len(w),
		}
	}
	return w, nil
}

// Keys returns all known keys, sorted by symbol then timeframe duration.
func (r *Registry) Keys() []model.SeriesKey {
	r.mu.RLock()
	keys := make([]model.SeriesKey, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe.Duration() < keys[j].Timeframe.Duration()
	})
	return keys
}

// Load pulls a window from src and appends it to the (symbol, tf) series.
// Invalid candles are skipped and counted rather than aborting the load.
func (r *Registry) Load(ctx context.Context, src model.CandleSource, symbol string, tf model.Timeframe, minLength int) (appended, rejected int, err error) {
	candles, err := src.FetchWindow(ctx, symbol, tf, minLength)
	if err != nil {
		return 0, 0, err
	}
	b := r.Buffer(model.SeriesKey{Symbol: symbol, Timeframe: tf})
	for _, c := range candles {
		if err := b.Append(c); err != nil {
			rejected++
			continue
		}
		appended++
	}
	return appended, rejected, nil
}
