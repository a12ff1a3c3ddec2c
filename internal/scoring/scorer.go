// Package scoring turns indicator snapshots into bounded scores and
// recommendations, and combines per-timeframe results into one verdict.
package scoring

import (
	"fmt"
	"math"

	"signal-engine/internal/model"
)

// Base is the neutral starting score.
const Base = 50

// Confidence bounds. No agreement maps to MinConfidence; full agreement to
// MaxConfidence, never 100.
const (
	MinConfidence = 50.0
	MaxConfidence = 95.0
)

// Adjustment sizes applied by the Scorer.
const (
	AdjRSI            = 15
	AdjMACD           = 10
	AdjBollinger      = 8
	AdjSMA            = 10
	AdjTrend          = 15
	AdjHighVolatility = -5
)

// Bands maps a score to a recommendation: score >= StrongBuy is STRONG_BUY,
// >= Buy is BUY, <= StrongSell is STRONG_SELL, <= Sell is SELL, else HOLD.
type Bands struct {
	StrongBuy  float64 `yaml:"strong_buy"`
	Buy        float64 `yaml:"buy"`
	Sell       float64 `yaml:"sell"`
	StrongSell float64 `yaml:"strong_sell"`
}

// DefaultBands returns 70/55/45/30.
func DefaultBands() Bands {
	return Bands{StrongBuy: 70, Buy: 55, Sell: 45, StrongSell: 30}
}

// Validate requires 0 <= StrongSell < Sell < Buy < StrongBuy <= 100 so the
// bands never overlap.
func (b Bands) Validate() error {
	if !(0 <= b.StrongSell && b.StrongSell < b.Sell && b.Sell < b.Buy && b.Buy < b.StrongBuy && b.StrongBuy <= 100) {
		return &model.ConfigurationError{
			Field:  "scoring.thresholds",
			Reason: fmt.Sprintf("need 0 <= strong_sell < sell < buy < strong_buy <= 100, got %g/%g/%g/%g", b.StrongSell, b.Sell, b.Buy, b.StrongBuy),
		}
	}
	return nil
}

// Recommend returns the label for score.
func (b Bands) Recommend(score float64) model.Recommendation {
	switch {
	case score >= b.StrongBuy:
		return model.StrongBuy
	case score >= b.Buy:
		return model.Buy
	case score <= b.StrongSell:
		return model.StrongSell
	case score <= b.Sell:
		return model.Sell
	default:
		return model.Hold
	}
}

// Params configures the Scorer.
type Params struct {
	RSIOversold       float64 `yaml:"rsi_oversold"`
	RSIOverbought     float64 `yaml:"rsi_overbought"`
	HighVolatilityPct float64 `yaml:"high_volatility_pct"`
	Bands             Bands   `yaml:"thresholds"`
}

// DefaultParams returns RSI 30/70, 5% volatility and DefaultBands.
func DefaultParams() Params {
	return Params{
		RSIOversold:       30,
		RSIOverbought:     70,
		HighVolatilityPct: 5,
		Bands:             DefaultBands(),
	}
}

// Scorer is stateless; it is safe for concurrent use.
type Scorer struct {
	p Params
}

// NewScorer validates p and returns a Scorer.
func NewScorer(p Params) (*Scorer, error) {
	if err := p.Bands.Validate(); err != nil {
		return nil, err
	}
	if !(p.RSIOversold < p.RSIOverbought) {
		return nil, &model.ConfigurationError{Field: "scoring.rsi", Reason: "rsi_oversold must be below rsi_overbought"}
	}
	if p.HighVolatilityPct <= 0 {
		return nil, &model.ConfigurationError{Field: "scoring.high_volatility_pct", Reason: "must be positive"}
	}
	return &Scorer{p: p}, nil
}

// Bands returns the recommendation bands in use.
func (s *Scorer) Bands() Bands { return s.p.Bands }

// Score evaluates one snapshot. The result is a fresh value; signals is
// copied in unchanged.
func (s *Scorer) Score(symbol string, tf model.Timeframe, snap model.IndicatorSnapshot, signals []model.Signal) model.AnalysisResult {
	var (
		score     = Base
		factors   []model.Factor
		bull      int
		bear      int
		evaluated int
	)
	apply := func(name string, adj int) {
		pol := model.Neutral
		switch {
		case adj > 0:
			pol = model.Bullish
		case adj < 0:
			pol = model.Bearish
		}
		score += adj
		factors = append(factors, model.Factor{Name: name, Adjustment: adj, Polarity: pol})
	}
	// vote counts a directional factor towards confidence.
	vote := func(adj int) {
		evaluated++
		switch {
		case adj > 0:
			bull++
		case adj < 0:
			bear++
		}
	}

	// RSI
	adj := 0
	switch {
	case snap.RSI < s.p.RSIOversold:
		adj = AdjRSI
	case snap.RSI > s.p.RSIOverbought:
		adj = -AdjRSI
	}
	vote(adj)
	if adj != 0 {
		apply("rsi", adj)
	}

	// MACD histogram
	adj = 0
	switch {
	case snap.MACD.Histogram > 0:
		adj = AdjMACD
	case snap.MACD.Histogram < 0:
		adj = -AdjMACD
	}
	vote(adj)
	if adj != 0 {
		apply("macd", adj)
	}

	// Price vs Bollinger middle
	adj = 0
	switch {
	case snap.Close > snap.Bollinger.Middle:
		adj = AdjBollinger
	case snap.Close < snap.Bollinger.Middle:
		adj = -AdjBollinger
	}
	vote(adj)
	if adj != 0 {
		apply("bollinger_middle", adj)
	}

	// Fast vs slow SMA, only once both have a full window.
	if snap.SMAFast.Ready && snap.SMASlow.Ready {
		adj = -AdjSMA
		if snap.SMAFast.Value > snap.SMASlow.Value {
			adj = AdjSMA
		}
		vote(adj)
		apply("sma_cross", adj)
	}

	// Trend
	adj = 0
	switch snap.Trend {
	case model.TrendBullish:
		adj = AdjTrend
	case model.TrendBearish:
		adj = -AdjTrend
	}
	vote(adj)
	if adj != 0 {
		apply("trend", adj)
	}

	// Risk only; not a directional vote.
	if snap.Volatility > s.p.HighVolatilityPct {
		apply("high_volatility", AdjHighVolatility)
	}

	score = clip(score, 0, 100)
	sigs := make([]model.Signal, len(signals))
	copy(sigs, signals)

	return model.AnalysisResult{
		Symbol:         symbol,
		Timeframe:      tf,
		Indicators:     snap,
		Signals:        sigs,
		Factors:        factors,
		Score:          score,
		Recommendation: s.p.Bands.Recommend(float64(score)),
		Confidence:     confidence(bull, bear, evaluated),
	}
}

// confidence maps directional agreement linearly into [50, 95].
func confidence(bull, bear, evaluated int) float64 {
	if evaluated == 0 {
		return MinConfidence
	}
	agree := math.Abs(float64(bull-bear)) / float64(evaluated)
	return MinConfidence + (MaxConfidence-MinConfidence)*agree
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
