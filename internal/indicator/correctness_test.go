package indicator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"signal-engine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// randomWalk returns a deterministic positive price series.
func randomWalk(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p *= 1 + (rng.Float64()-0.5)*0.04
		out[i] = p
	}
	return out
}

func candlesFrom(closes []float64) []model.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			TS:   t0.Add(time.Duration(i) * time.Hour),
			Open: c, High: c * 1.001, Low: c * 0.999, Close: c, Volume: 1000,
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after 3: (100+102+104)/3 = 102
	// SMA after 4: (102+104+103)/3 = 103
	// SMA after 5: (104+103+105)/3 = 104
	prices := []float64{100, 102, 104, 103, 105}
	got, err := SMA(prices, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "SMA(3)", got, 104, 1e-9)

	series := SMASeries(prices, 3)
	// Backfill policy: partial means before the window fills.
	want := []float64{100, 101, 102, 103, 104}
	for i := range want {
		assertClose(t, "SMASeries(3)", series[i], want[i], 1e-9)
	}
}

func TestSMA_Insufficient(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 3)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestMovingAverage_ReadyFlag(t *testing.T) {
	ma := MovingAverage([]float64{10, 20, 30}, 5)
	if ma.Ready {
		t.Fatal("SMA(5) over 3 values must not be ready")
	}
	assertClose(t, "partial mean", ma.Value, 20, 1e-9)

	ma = MovingAverage([]float64{10, 20, 30, 40, 50, 60}, 5)
	if !ma.Ready {
		t.Fatal("SMA(5) over 6 values must be ready")
	}
	assertClose(t, "SMA(5)", ma.Value, 40, 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_SeededWithFirstValue(t *testing.T) {
	// period 3 → mult 0.5
	// ema[0] = 10
	// ema[1] = 20*0.5 + 10*0.5 = 15
	// ema[2] = 30*0.5 + 15*0.5 = 22.5
	s := EMASeries([]float64{10, 20, 30}, 3)
	want := []float64{10, 15, 22.5}
	for i := range want {
		assertClose(t, "EMA(3)", s[i], want[i], 1e-12)
	}
	assertClose(t, "EMALast", EMALast([]float64{10, 20, 30}, 3), 22.5, 1e-12)
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_NeutralWhenShort(t *testing.T) {
	prices := make([]float64, 14) // needs 15
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	if got := RSI(prices, 14); got != NeutralRSI {
		t.Fatalf("expected neutral %v, got %v", NeutralRSI, got)
	}
}

func TestRSI_AllGainsIs100(t *testing.T) {
	prices := make([]float64, 15)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	assertClose(t, "RSI all gains", RSI(prices, 14), 100, 1e-12)
}

func TestRSI_FlatIs100(t *testing.T) {
	// No losses at all → avg_loss == 0 → 100.
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 50
	}
	assertClose(t, "RSI flat", RSI(prices, 14), 100, 1e-12)
}

func TestRSI_HandCalculatedPeriod2(t *testing.T) {
	// Prices 10, 12, 11, 13
	// deltas: +2, -1, +2
	// seed (first 2 deltas): avgGain = 1, avgLoss = 0.5
	// next: avgGain = (1*1 + 2)/2 = 1.5, avgLoss = (0.5*1 + 0)/2 = 0.25
	// RS = 6 → RSI = 100 - 100/7 = 85.714285...
	assertClose(t, "RSI(2)", RSI([]float64{10, 12, 11, 13}, 2), 100-100.0/7, 1e-9)
}

func TestRSI_MonotonicIncreaseConvergesTo100(t *testing.T) {
	prices := []float64{100, 99} // one early loss keeps avg_loss > 0
	for i := 0; i < 300; i++ {
		prices = append(prices, prices[len(prices)-1]+1)
	}
	prev := 0.0
	for n := 16; n <= len(prices); n += 20 {
		r := RSI(prices[:n], 14)
		if r > 100 {
			t.Fatalf("RSI exceeded 100: %v", r)
		}
		if r < prev {
			t.Fatalf("RSI should rise on a monotonic series: %v after %v", r, prev)
		}
		prev = r
	}
	if prev < 99.9 {
		t.Fatalf("expected RSI to converge toward 100, got %v", prev)
	}
}

func TestRSI_AlwaysInRange(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		prices := randomWalk(seed, 120)
		r := RSI(prices, 14)
		if r < 0 || r > 100 || math.IsNaN(r) {
			t.Fatalf("seed %d: RSI out of range: %v", seed, r)
		}
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_HistogramIsLineMinusSignal(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		prices := randomWalk(seed, 80)
		line, signal, hist := MACDSeries(prices, 12, 26, 9)
		for i := range prices {
			assertClose(t, "histogram", hist[i], line[i]-signal[i], 1e-9)
		}
	}
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 42
	}
	m := MACD(prices, 12, 26, 9)
	assertClose(t, "line", m.Line, 0, 1e-12)
	assertClose(t, "signal", m.Signal, 0, 1e-12)
	assertClose(t, "histogram", m.Histogram, 0, 1e-12)
}

func TestMACD_RisingSeriesPositive(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	if m := MACD(prices, 12, 26, 9); m.Line <= 0 {
		t.Fatalf("expected positive MACD line on a rising series, got %v", m.Line)
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger
// ────────────────────────────────────────────────────────────

func TestBollinger_FlatSeriesCollapses(t *testing.T) {
	const p = 100.0
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = p
	}
	bb, err := Bollinger(prices, 20, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if bb.Upper != p || bb.Middle != p || bb.Lower != p {
		t.Fatalf("expected upper == middle == lower == %v, got %+v", p, bb)
	}
}

func TestBollinger_PopulationStdDev(t *testing.T) {
	// 2, 4, 4, 4, 5, 5, 7, 9 → mean 5, population σ = 2
	bb, err := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "middle", bb.Middle, 5, 1e-12)
	assertClose(t, "upper", bb.Upper, 9, 1e-12)
	assertClose(t, "lower", bb.Lower, 1, 1e-12)
}

func TestBollinger_Insufficient(t *testing.T) {
	_, err := Bollinger([]float64{1, 2, 3}, 20, 2)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Descriptors
// ────────────────────────────────────────────────────────────

func TestVolatility(t *testing.T) {
	// Constant growth: every return equal, σ = 0.
	prices := []float64{100}
	for i := 0; i < 20; i++ {
		prices = append(prices, prices[len(prices)-1]*1.01)
	}
	assertClose(t, "constant growth", Volatility(prices, 14), 0, 1e-9)

	// Two returns: +10% and -10% → mean 0, σ = 0.1 → 10%.
	assertClose(t, "two returns", Volatility([]float64{100, 110, 99}, 14), 10, 1e-9)

	if v := Volatility([]float64{100, 101}, 14); v != 0 {
		t.Fatalf("one return should yield 0, got %v", v)
	}
}

func TestTrend(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		want   model.Trend
	}{
		{"bullish", []float64{100, 100, 100, 100, 100, 103, 103, 103, 103, 103}, model.TrendBullish},
		{"bearish", []float64{100, 100, 100, 100, 100, 97, 97, 97, 97, 97}, model.TrendBearish},
		{"within threshold", []float64{100, 100, 100, 100, 100, 101, 101, 101, 101, 101}, model.TrendNeutral},
		{"too short", []float64{100, 200, 300}, model.TrendNeutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Trend(tc.prices, 5, 2.0); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestVolumeRatio(t *testing.T) {
	vols := make([]float64, 21)
	for i := range vols {
		vols[i] = 100
	}
	vols[20] = 250
	assertClose(t, "spike", VolumeRatio(vols, 20), 2.5, 1e-12)

	// Current candle excluded from the trailing mean.
	assertClose(t, "short history", VolumeRatio([]float64{10, 30}, 20), 3, 1e-12)
	assertClose(t, "zero mean", VolumeRatio([]float64{0, 0, 5}, 20), 1, 1e-12)
	assertClose(t, "single", VolumeRatio([]float64{5}, 20), 1, 1e-12)
}

func TestChangePct(t *testing.T) {
	assertClose(t, "up", ChangePct([]float64{100, 106}), 6, 1e-12)
	assertClose(t, "down", ChangePct([]float64{100, 94}), -6, 1e-12)
	assertClose(t, "short", ChangePct([]float64{100}), 0, 0)
}

// ────────────────────────────────────────────────────────────
// Compute
// ────────────────────────────────────────────────────────────

func TestCompute_Insufficient(t *testing.T) {
	p := DefaultParams()
	if p.MinCandles() != 26 {
		t.Fatalf("expected default MinCandles=26, got %d", p.MinCandles())
	}
	_, err := Compute(candlesFrom(randomWalk(1, 25)), p)
	var ide *model.InsufficientDataError
	if !errors.As(err, &ide) || ide.Need != 26 || ide.Have != 25 {
		t.Fatalf("expected InsufficientDataError{26,25}, got %v", err)
	}
}

func TestCompute_ReferentiallyTransparent(t *testing.T) {
	candles := candlesFrom(randomWalk(7, 100))
	a, err := Compute(candles, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Compute(candles, DefaultParams())
	if a != b {
		t.Fatalf("snapshots differ for identical input:\n%+v\n%+v", a, b)
	}
}

func TestCompute_NoNaNAtMinimum(t *testing.T) {
	p := DefaultParams()
	snap, err := Compute(candlesFrom(randomWalk(3, p.MinCandles())), p)
	if err != nil {
		t.Fatal(err)
	}
	vals := []float64{
		snap.RSI, snap.MACD.Line, snap.MACD.Signal, snap.MACD.Histogram,
		snap.Bollinger.Upper, snap.Bollinger.Middle, snap.Bollinger.Lower,
		snap.SMAFast.Value, snap.SMASlow.Value, snap.EMAFast.Value, snap.EMASlow.Value,
		snap.Volatility, snap.VolumeRatio, snap.ChangePct,
	}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("value %d is not finite: %v", i, v)
		}
	}
	if snap.SMASlow.Ready {
		t.Fatal("SMA(50) must not be ready with 26 candles")
	}
	if !snap.SMAFast.Ready {
		t.Fatal("SMA(20) must be ready with 26 candles")
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	bad := DefaultParams()
	bad.RSIPeriod = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero rsi_period")
	}
	bad = DefaultParams()
	bad.MACDFast = 30
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for macd_fast >= macd_slow")
	}
}
