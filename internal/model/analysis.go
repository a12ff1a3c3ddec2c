package model

import "encoding/json"

// Polarity is the direction a signal or factor points to.
type Polarity string

const (
	Bullish Polarity = "BULLISH"
	Bearish Polarity = "BEARISH"
	Neutral Polarity = "NEUTRAL"
)

// SignalName tags a discrete condition found in an indicator snapshot.
type SignalName string

const (
	SignalRSIOversold       SignalName = "RSI_OVERSOLD"
	SignalRSIOverbought     SignalName = "RSI_OVERBOUGHT"
	SignalMACDBullishCross  SignalName = "MACD_BULLISH_CROSS"
	SignalMACDBearishCross  SignalName = "MACD_BEARISH_CROSS"
	SignalSMAGoldenCross    SignalName = "SMA_GOLDEN_CROSS"
	SignalSMADeathCross     SignalName = "SMA_DEATH_CROSS"
	SignalPriceAboveBBUpper SignalName = "PRICE_ABOVE_BB_UPPER"
	SignalPriceBelowBBLower SignalName = "PRICE_BELOW_BB_LOWER"
	SignalVolumeSpike       SignalName = "VOLUME_SPIKE"
	SignalStrongMoveUp      SignalName = "STRONG_MOVE_UP"
	SignalStrongMoveDown    SignalName = "STRONG_MOVE_DOWN"
)

// Signal is a named condition plus its polarity.
type Signal struct {
	Name     SignalName `json:"name"`
	Polarity Polarity   `json:"polarity"`
}

// Recommendation is the discrete label derived from a score.
type Recommendation string

const (
	StrongBuy  Recommendation = "STRONG_BUY"
	Buy        Recommendation = "BUY"
	Hold       Recommendation = "HOLD"
	Sell       Recommendation = "SELL"
	StrongSell Recommendation = "STRONG_SELL"
)

// Factor records one scoring adjustment that was applied.
type Factor struct {
	Name       string   `json:"name"`
	Adjustment int      `json:"adjustment"`
	Polarity   Polarity `json:"polarity"`
}

// AnalysisResult is the scored evaluation of one (symbol, timeframe).
type AnalysisResult struct {
	Symbol         string            `json:"symbol"`
	Timeframe      Timeframe         `json:"timeframe"`
	Indicators     IndicatorSnapshot `json:"indicators"`
	Signals        []Signal          `json:"signals"`
	Factors        []Factor          `json:"factors"`
	Score          int               `json:"score"`          // [0, 100]
	Recommendation Recommendation    `json:"recommendation"` // from score bands
	Confidence     float64           `json:"confidence"`     // [50, 95]
}

// AggregateResult combines per-timeframe results for one symbol.
type AggregateResult struct {
	Symbol                string                       `json:"symbol"`
	PerTimeframe          map[Timeframe]AnalysisResult `json:"per_timeframe"`
	Weights               map[Timeframe]float64        `json:"weights"` // renormalised
	Missing               []Timeframe                  `json:"missing,omitempty"`
	OverallScore          float64                      `json:"overall_score"`
	OverallRecommendation Recommendation               `json:"overall_recommendation"`
	OverallConfidence     float64                      `json:"overall_confidence"`
}

// JSON returns the JSON-encoded aggregate (ignoring errors).
func (r *AggregateResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// HasSignal reports whether any timeframe produced the named signal.
func (r *AggregateResult) HasSignal(name SignalName) (Timeframe, bool) {
	for _, tf := range AllTimeframes {
		res, ok := r.PerTimeframe[tf]
		if !ok {
			continue
		}
		for _, s := range res.Signals {
			if s.Name == name {
				return tf, true
			}
		}
	}
	return "", false
}
