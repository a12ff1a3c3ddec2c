// Package indicator provides technical indicator calculations over candle data.
//
// Streaming indicators implement the Indicator interface and are fed one value
// at a time. The package-level functions (RSI, MACD, Bollinger, ...) are pure:
// they build fresh streaming state for every call, so identical inputs always
// produce identical outputs.
package indicator

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// NeutralRSI is returned by RSI when fewer than period+1 prices exist.
const NeutralRSI = 50.0

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSIState)(nil)
	_ Indicator = (*SMAState)(nil)
)
