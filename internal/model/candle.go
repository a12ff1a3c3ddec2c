package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle is one OHLCV bar for a fixed time bucket. Candles are immutable once
// appended to a series buffer.
type Candle struct {
	TS     time.Time `json:"ts"` // bucket open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate enforces the OHLC invariant: every field finite and non-negative,
// low <= {open, close} <= high. Offending candles are rejected, never coerced.
func (c Candle) Validate() error {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}, {"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &InvalidCandleError{TS: c.TS, Reason: f.name + " is not finite"}
		}
		if f.v < 0 {
			return &InvalidCandleError{TS: c.TS, Reason: f.name + " is negative"}
		}
	}
	if c.TS.IsZero() {
		return &InvalidCandleError{TS: c.TS, Reason: "missing timestamp"}
	}
	if c.Low > c.High {
		return &InvalidCandleError{TS: c.TS, Reason: "low above high"}
	}
	if c.Open < c.Low || c.Open > c.High {
		return &InvalidCandleError{TS: c.TS, Reason: "open outside [low, high]"}
	}
	if c.Close < c.Low || c.Close > c.High {
		return &InvalidCandleError{TS: c.TS, Reason: "close outside [low, high]"}
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close prices of candles in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Volumes extracts the volumes of candles in order.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}

// KeyedCandle is a candle tagged with the series it belongs to, as carried
// on ingest channels.
type KeyedCandle struct {
	Key    SeriesKey `json:"key"`
	Candle Candle    `json:"candle"`
}
