package model

import "time"

// Trend classifies the short-term price direction of a series.
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// MACDValue holds the latest MACD line, signal line and histogram.
type MACDValue struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerBands holds the latest band values.
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// MA is a moving average at a given period. Ready is false when the series
// was shorter than Period; Value is then the partial mean and must not be
// used for comparisons.
type MA struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
	Ready  bool    `json:"ready"`
}

// IndicatorSnapshot is the read-only set of indicators derived from one
// series window. It is always regenerated, never mutated.
type IndicatorSnapshot struct {
	TS      time.Time `json:"ts"` // timestamp of the last candle
	Candles int       `json:"candles"`
	Close   float64   `json:"close"`
	Open    float64   `json:"open"`
	Volume  float64   `json:"volume"`

	RSI        float64        `json:"rsi"`
	MACD       MACDValue      `json:"macd"`
	Bollinger  BollingerBands `json:"bollinger"`
	SMAFast    MA             `json:"sma_fast"`
	SMASlow    MA             `json:"sma_slow"`
	EMAFast    MA             `json:"ema_fast"`
	EMASlow    MA             `json:"ema_slow"`
	Volatility float64        `json:"volatility"` // stddev of % returns
	Trend      Trend          `json:"trend"`

	VolumeRatio float64 `json:"volume_ratio"` // current volume / trailing mean
	ChangePct   float64 `json:"change_pct"`   // close-to-close % change
}
