package series

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal-engine/internal/model"
)

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry(10)
	r.Append("BTCUSDT", model.TF1h, bar(0, 100))
	r.Append("BTCUSDT", model.TF1d, bar(0, 200))
	r.Append("ETHUSDT", model.TF1h, bar(0, 300))

	if w := r.Window("BTCUSDT", model.TF1h, 0); len(w) != 1 || w[0].Close != 100 {
		t.Fatalf("unexpected BTC 1h window: %+v", w)
	}
	if w := r.Window("ETHUSDT", model.TF1h, 0); len(w) != 1 || w[0].Close != 300 {
		t.Fatalf("unexpected ETH 1h window: %+v", w)
	}
	if w := r.Window("SOLUSDT", model.TF1h, 0); w != nil {
		t.Fatalf("unknown key should return nil, got %+v", w)
	}

	keys := r.Keys()
	want := []model.SeriesKey{
		{Symbol: "BTCUSDT", Timeframe: model.TF1h},
		{Symbol: "BTCUSDT", Timeframe: model.TF1d},
		{Symbol: "ETHUSDT", Timeframe: model.TF1h},
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestRegistry_AppendWrapsInvalid(t *testing.T) {
	r := NewRegistry(10)
	err := r.Append("BTCUSDT", model.TF1h, model.Candle{TS: t0, Open: 1, High: 0.5, Low: 1, Close: 1})
	var ice *model.InvalidCandleError
	if !errors.As(err, &ice) {
		t.Fatalf("expected wrapped InvalidCandleError, got %v", err)
	}
}

func TestRegistry_FetchWindow(t *testing.T) {
	r := NewRegistry(100)
	candles := make([]model.Candle, 30)
	for i := range candles {
		candles[i] = bar(i, float64(100+i))
	}
	if err := r.AppendAll("BTCUSDT", model.TF4h, candles); err != nil {
		t.Fatal(err)
	}

	w, err := r.FetchWindow(context.Background(), "BTCUSDT", model.TF4h, 26)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w) != 30 {
		t.Fatalf("expected full window of 30, got %d", len(w))
	}

	_, err = r.FetchWindow(context.Background(), "BTCUSDT", model.TF1w, 26)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for empty series, got %v", err)
	}
}

type stubSource struct {
	candles []model.Candle
	err     error
}

func (s stubSource) FetchWindow(context.Context, string, model.Timeframe, int) ([]model.Candle, error) {
	return s.candles, s.err
}

func TestRegistry_LoadSkipsInvalid(t *testing.T) {
	r := NewRegistry(100)
	src := stubSource{candles: []model.Candle{
		bar(0, 100),
		{TS: t0.Add(time.Hour), Open: 5, High: 4, Low: 6, Close: 5}, // low > high
		bar(2, 102),
	}}
	appended, rejected, err := r.Load(context.Background(), src, "BTCUSDT", model.TF1h, 1)
	if err != nil {
		t.Fatal(err)
	}
	if appended != 2 || rejected != 1 {
		t.Fatalf("expected 2 appended / 1 rejected, got %d / %d", appended, rejected)
	}

	boom := errors.New("exchange down")
	if _, _, err := r.Load(context.Background(), stubSource{err: boom}, "BTCUSDT", model.TF1h, 1); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}
