package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the bucket width of a series, e.g. "1h" or "1d".
type Timeframe string

const (
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

// AllTimeframes lists the supported timeframes, shortest first.
var AllTimeframes = []Timeframe{TF30m, TF1h, TF4h, TF1d, TF1w}

// Duration returns the bucket width. Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF30m:
		return 30 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	case TF1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool { return tf.Duration() > 0 }

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe parses a timeframe label, case-insensitively.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// SeriesKey identifies one (symbol, timeframe) series.
type SeriesKey struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

// String returns "symbol:timeframe".
func (k SeriesKey) String() string {
	return k.Symbol + ":" + string(k.Timeframe)
}
