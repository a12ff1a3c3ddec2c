// Package signals classifies indicator snapshots into discrete named signals.
package signals

import (
	"fmt"
	"math"

	"signal-engine/internal/model"
)

// Thresholds are the fixed levels the Detector compares against.
type Thresholds struct {
	RSIOversold      float64 `yaml:"rsi_oversold"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	VolumeSpikeRatio float64 `yaml:"volume_spike_ratio"`
	StrongMovePct    float64 `yaml:"strong_move_pct"`
	MaxSignals       int     `yaml:"max_signals"`
}

// DefaultThresholds returns RSI 30/70, 2× volume, 5% move, at most 5 signals.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOversold:      30,
		RSIOverbought:    70,
		VolumeSpikeRatio: 2,
		StrongMovePct:    5,
		MaxSignals:       5,
	}
}

// Validate checks that the thresholds are usable.
func (t Thresholds) Validate() error {
	if !(t.RSIOversold > 0 && t.RSIOversold < t.RSIOverbought && t.RSIOverbought < 100) {
		return fmt.Errorf("rsi thresholds must satisfy 0 < oversold (%g) < overbought (%g) < 100", t.RSIOversold, t.RSIOverbought)
	}
	if t.VolumeSpikeRatio <= 1 {
		return fmt.Errorf("volume_spike_ratio must be above 1, got %g", t.VolumeSpikeRatio)
	}
	if t.StrongMovePct <= 0 {
		return fmt.Errorf("strong_move_pct must be positive, got %g", t.StrongMovePct)
	}
	if t.MaxSignals <= 0 {
		return fmt.Errorf("max_signals must be positive, got %d", t.MaxSignals)
	}
	return nil
}

// Detector is stateless; it is safe for concurrent use.
type Detector struct {
	th Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th}
}

// Detect returns the signals present in curr, in detection order:
// RSI level, MACD cross, SMA cross, Bollinger break, volume spike, strong move.
// prev is the snapshot one candle earlier and may be nil, in which case no
// crossover can be detected. At most MaxSignals are returned; later
// candidates are dropped.
func (d *Detector) Detect(prev *model.IndicatorSnapshot, curr model.IndicatorSnapshot) []model.Signal {
	out := make([]model.Signal, 0, d.th.MaxSignals)
	add := func(name model.SignalName, pol model.Polarity) {
		if len(out) < d.th.MaxSignals {
			out = append(out, model.Signal{Name: name, Polarity: pol})
		}
	}

	switch {
	case curr.RSI < d.th.RSIOversold:
		add(model.SignalRSIOversold, model.Bullish)
	case curr.RSI > d.th.RSIOverbought:
		add(model.SignalRSIOverbought, model.Bearish)
	}

	if prev != nil {
		switch crossed(prev.MACD.Line-prev.MACD.Signal, curr.MACD.Line-curr.MACD.Signal) {
		case 1:
			add(model.SignalMACDBullishCross, model.Bullish)
		case -1:
			add(model.SignalMACDBearishCross, model.Bearish)
		}

		if prev.SMAFast.Ready && prev.SMASlow.Ready && curr.SMAFast.Ready && curr.SMASlow.Ready {
			switch crossed(prev.SMAFast.Value-prev.SMASlow.Value, curr.SMAFast.Value-curr.SMASlow.Value) {
			case 1:
				add(model.SignalSMAGoldenCross, model.Bullish)
			case -1:
				add(model.SignalSMADeathCross, model.Bearish)
			}
		}
	}

	switch {
	case curr.Close > curr.Bollinger.Upper:
		add(model.SignalPriceAboveBBUpper, model.Bullish)
	case curr.Close < curr.Bollinger.Lower:
		add(model.SignalPriceBelowBBLower, model.Bearish)
	}

	if curr.VolumeRatio > d.th.VolumeSpikeRatio {
		pol := model.Neutral
		switch {
		case curr.Close > curr.Open:
			pol = model.Bullish
		case curr.Close < curr.Open:
			pol = model.Bearish
		}
		add(model.SignalVolumeSpike, pol)
	}

	if math.Abs(curr.ChangePct) > d.th.StrongMovePct {
		if curr.ChangePct > 0 {
			add(model.SignalStrongMoveUp, model.Bullish)
		} else {
			add(model.SignalStrongMoveDown, model.Bearish)
		}
	}

	return out
}

// crossed returns +1 when the difference went from strictly negative to
// strictly positive, -1 for the reverse, 0 otherwise.
func crossed(prevDiff, currDiff float64) int {
	switch {
	case prevDiff < 0 && currDiff > 0:
		return 1
	case prevDiff > 0 && currDiff < 0:
		return -1
	default:
		return 0
	}
}
