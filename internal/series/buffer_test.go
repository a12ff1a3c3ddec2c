package series

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/model"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) model.Candle {
	return model.Candle{
		TS:   t0.Add(time.Duration(i) * time.Hour),
		Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10,
	}
}

func TestBuffer_AppendInOrder(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 5; i++ {
		if err := b.Append(bar(i, float64(100+i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if b.Len() != 5 {
		t.Fatalf("expected len=5, got %d", b.Len())
	}
	w := b.Window(3)
	if len(w) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(w))
	}
	for i, want := range []float64{102, 103, 104} {
		if w[i].Close != want {
			t.Errorf("window[%d].Close = %v, want %v", i, w[i].Close, want)
		}
	}
}

func TestBuffer_OutOfOrderInsertKeepsAscending(t *testing.T) {
	b := NewBuffer(10)
	for _, i := range []int{4, 0, 2, 1, 3} {
		if err := b.Append(bar(i, float64(100+i))); err != nil {
			t.Fatal(err)
		}
	}
	w := b.Window(0)
	for i := 1; i < len(w); i++ {
		if !w[i].TS.After(w[i-1].TS) {
			t.Fatalf("window not strictly ascending at %d: %v then %v", i, w[i-1].TS, w[i].TS)
		}
	}
}

func TestBuffer_SameTimestampReplaces(t *testing.T) {
	b := NewBuffer(10)
	b.Append(bar(0, 100))
	b.Append(bar(1, 101))
	if err := b.Append(bar(1, 150)); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 2 {
		t.Fatalf("expected len=2 after replace, got %d", b.Len())
	}
	last, _ := b.Last()
	if last.Close != 150 {
		t.Fatalf("expected later write to win, got close=%v", last.Close)
	}
	replaced, _ := b.Stats()
	if replaced != 1 {
		t.Fatalf("expected replaced=1, got %d", replaced)
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(bar(i, float64(100+i)))
	}
	if b.Len() != 3 {
		t.Fatalf("expected len=3, got %d", b.Len())
	}
	w := b.Window(0)
	if w[0].Close != 102 {
		t.Fatalf("expected oldest surviving close=102, got %v", w[0].Close)
	}
	_, evicted := b.Stats()
	if evicted != 2 {
		t.Fatalf("expected evicted=2, got %d", evicted)
	}

	// Older than the whole full window: dropped.
	b.Append(bar(-1, 99))
	if w := b.Window(0); w[0].Close != 102 || len(w) != 3 {
		t.Fatalf("stale candle should not enter a full buffer, got %+v", w)
	}
}

func TestBuffer_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		c    model.Candle
	}{
		{"low above high", model.Candle{TS: t0, Open: 10, High: 9, Low: 11, Close: 10}},
		{"close above high", model.Candle{TS: t0, Open: 10, High: 11, Low: 9, Close: 12}},
		{"open below low", model.Candle{TS: t0, Open: 8, High: 11, Low: 9, Close: 10}},
		{"negative volume", model.Candle{TS: t0, Open: 10, High: 11, Low: 9, Close: 10, Volume: -1}},
		{"nan close", model.Candle{TS: t0, Open: 10, High: 11, Low: 9, Close: math.NaN()}},
		{"zero timestamp", model.Candle{Open: 10, High: 11, Low: 9, Close: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuffer(5)
			err := b.Append(tc.c)
			var ice *model.InvalidCandleError
			if !errors.As(err, &ice) {
				t.Fatalf("expected InvalidCandleError, got %v", err)
			}
			if b.Len() != 0 {
				t.Fatal("invalid candle must not be stored")
			}
		})
	}
}

func TestBuffer_WindowIsCopy(t *testing.T) {
	b := NewBuffer(5)
	b.Append(bar(0, 100))
	w := b.Window(1)
	w[0].Close = 999
	if again := b.Window(1); again[0].Close != 100 {
		t.Fatal("mutating a window must not affect the buffer")
	}
}

func TestBuffer_WindowAtLeast(t *testing.T) {
	b := NewBuffer(50)
	for i := 0; i < 10; i++ {
		b.Append(bar(i, 100))
	}
	if _, err := b.WindowAtLeast(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := b.WindowAtLeast(26)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	var ide *model.InsufficientDataError
	if !errors.As(err, &ide) || ide.Need != 26 || ide.Have != 10 {
		t.Fatalf("unexpected error detail: %+v", ide)
	}
}

func TestBuffer_ConcurrentAppendAndWindow(t *testing.T) {
	b := NewBuffer(100)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Append(bar(i, float64(100+i%7)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			w := b.Window(50)
			for j := 1; j < len(w); j++ {
				if !w[j].TS.After(w[j-1].TS) {
					t.Errorf("torn read: window not ascending")
					return
				}
			}
		}
	}()
	wg.Wait()
	if b.Len() != 100 {
		t.Fatalf("expected len=100, got %d", b.Len())
	}
}
