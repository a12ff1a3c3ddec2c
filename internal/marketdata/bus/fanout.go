// Package bus broadcasts ingested candles to independent consumers (series
// registry, SQLite persistence).
package bus

import (
	"context"
	"log/slog"
	"sync"

	"signal-engine/internal/model"
)

// FanOut broadcasts candles from a single input channel to N output channels.
// A full output drops the candle for that consumer only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.KeyedCandle
	names   []string
	bufSize int
	log     *slog.Logger

	// OnDrop is called when a candle is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int, log *slog.Logger) *FanOut {
	if log == nil {
		log = slog.Default()
	}
	return &FanOut{bufSize: outputBufferSize, log: log}
}

// Subscribe creates and returns a new named output channel. Subscribe
// before Run.
func (f *FanOut) Subscribe(name string) <-chan model.KeyedCandle {
	ch := make(chan model.KeyedCandle, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. Outputs are closed
// when Run returns. Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.KeyedCandle) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case kc, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- kc:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						f.log.Warn("bus subscriber full, dropping candle", "subscriber", f.names[i], "series", kc.Key.String())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports saturation per subscriber.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
