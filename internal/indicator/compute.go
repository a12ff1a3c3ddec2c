package indicator

import (
	"fmt"

	"signal-engine/internal/model"
)

// Params holds every indicator period used to build a snapshot.
type Params struct {
	RSIPeriod  int     `yaml:"rsi_period"`
	MACDFast   int     `yaml:"macd_fast"`
	MACDSlow   int     `yaml:"macd_slow"`
	MACDSignal int     `yaml:"macd_signal"`
	BBPeriod   int     `yaml:"bb_period"`
	BBStdDev   float64 `yaml:"bb_stddev"`
	SMAFast    int     `yaml:"sma_fast"`
	SMASlow    int     `yaml:"sma_slow"`
	EMAFast    int     `yaml:"ema_fast"`
	EMASlow    int     `yaml:"ema_slow"`

	VolatilityWindow  int     `yaml:"volatility_window"`
	TrendWindow       int     `yaml:"trend_window"`
	TrendThresholdPct float64 `yaml:"trend_threshold_pct"`
	VolumeWindow      int     `yaml:"volume_window"`
}

// DefaultParams returns the conventional periods: RSI 14, MACD 12/26/9,
// Bollinger 20/2.0, SMA 20/50, EMA 12/26.
func DefaultParams() Params {
	return Params{
		RSIPeriod:         14,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		BBPeriod:          20,
		BBStdDev:          2.0,
		SMAFast:           20,
		SMASlow:           50,
		EMAFast:           12,
		EMASlow:           26,
		VolatilityWindow:  14,
		TrendWindow:       5,
		TrendThresholdPct: 2.0,
		VolumeWindow:      20,
	}
}

// Validate rejects non-positive periods and inverted fast/slow pairs.
func (p Params) Validate() error {
	periods := []struct {
		name string
		v    int
	}{
		{"rsi_period", p.RSIPeriod},
		{"macd_fast", p.MACDFast},
		{"macd_slow", p.MACDSlow},
		{"macd_signal", p.MACDSignal},
		{"bb_period", p.BBPeriod},
		{"sma_fast", p.SMAFast},
		{"sma_slow", p.SMASlow},
		{"ema_fast", p.EMAFast},
		{"ema_slow", p.EMASlow},
		{"volatility_window", p.VolatilityWindow},
		{"trend_window", p.TrendWindow},
		{"volume_window", p.VolumeWindow},
	}
	for _, f := range periods {
		if f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, f.v)
		}
	}
	if p.BBStdDev <= 0 {
		return fmt.Errorf("bb_stddev must be positive, got %g", p.BBStdDev)
	}
	if p.TrendThresholdPct < 0 {
		return fmt.Errorf("trend_threshold_pct must not be negative, got %g", p.TrendThresholdPct)
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("macd_fast (%d) must be below macd_slow (%d)", p.MACDFast, p.MACDSlow)
	}
	if p.SMAFast >= p.SMASlow {
		return fmt.Errorf("sma_fast (%d) must be below sma_slow (%d)", p.SMAFast, p.SMASlow)
	}
	return nil
}

// MinCandles is the shortest series Compute accepts: enough for the slowest
// of MACD's slow EMA, RSI and Bollinger.
func (p Params) MinCandles() int {
	n := p.MACDSlow
	if p.RSIPeriod+1 > n {
		n = p.RSIPeriod + 1
	}
	if p.BBPeriod > n {
		n = p.BBPeriod
	}
	return n
}

// Compute derives a snapshot from candles (timestamp ascending). It fails with
// *model.InsufficientDataError below MinCandles and never returns NaN.
func Compute(candles []model.Candle, p Params) (model.IndicatorSnapshot, error) {
	if need := p.MinCandles(); len(candles) < need {
		return model.IndicatorSnapshot{}, &model.InsufficientDataError{What: "indicator snapshot", Need: need, Have: len(candles)}
	}
	closes := model.Closes(candles)
	volumes := model.Volumes(candles)
	last := candles[len(candles)-1]

	bb, err := Bollinger(closes, p.BBPeriod, p.BBStdDev)
	if err != nil {
		return model.IndicatorSnapshot{}, err
	}

	return model.IndicatorSnapshot{
		TS:      last.TS,
		Candles: len(candles),
		Close:   last.Close,
		Open:    last.Open,
		Volume:  last.Volume,

		RSI:        RSI(closes, p.RSIPeriod),
		MACD:       MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal),
		Bollinger:  bb,
		SMAFast:    MovingAverage(closes, p.SMAFast),
		SMASlow:    MovingAverage(closes, p.SMASlow),
		EMAFast:    ExpMovingAverage(closes, p.EMAFast),
		EMASlow:    ExpMovingAverage(closes, p.EMASlow),
		Volatility: Volatility(closes, p.VolatilityWindow),
		Trend:      Trend(closes, p.TrendWindow, p.TrendThresholdPct),

		VolumeRatio: VolumeRatio(volumes, p.VolumeWindow),
		ChangePct:   ChangePct(closes),
	}, nil
}
