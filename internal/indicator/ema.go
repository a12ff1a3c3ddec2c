package indicator

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage needed. The first value seeds the
// average directly (never zero), so EMA is defined from the first update.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }

// Ready reports whether a full period has been seen. The value is usable
// before that, but it is still dominated by the seed.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}

// EMASeries returns the EMA at every index of values.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	e := NewEMA(period)
	for i, v := range values {
		e.Update(v)
		out[i] = e.Value()
	}
	return out
}

// EMALast returns the final EMA of values, or 0 for an empty input.
func EMALast(values []float64, period int) float64 {
	e := NewEMA(period)
	for _, v := range values {
		e.Update(v)
	}
	return e.Value()
}
