package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is matched by every *InsufficientDataError via errors.Is.
// Callers recover by waiting for more candles; it is never fatal.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports that fewer candles exist than a computation needs.
type InsufficientDataError struct {
	What string // what was being computed, e.g. "BTCUSDT:1h window"
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d, have %d", e.What, e.Need, e.Have)
}

// Is makes errors.Is(err, ErrInsufficientData) work for wrapped values.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// InvalidCandleError reports a candle that violates the OHLC invariant.
type InvalidCandleError struct {
	TS     time.Time
	Reason string
}

func (e *InvalidCandleError) Error() string {
	return fmt.Sprintf("invalid candle at %s: %s", e.TS.Format(time.RFC3339), e.Reason)
}

// ConfigurationError reports an unusable setting. It is fatal at startup and
// never produced during an evaluation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
