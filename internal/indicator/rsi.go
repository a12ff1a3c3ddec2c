package indicator

// RSIState calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per value with no history scans.
type RSIState struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSIState {
	return &RSIState{period: period, current: NeutralRSI}
}

func (r *RSIState) Name() string { return "RSI" }

func (r *RSIState) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price: just record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain := 0.0
	loss := 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			// First RSI value using SMA seed
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFrom(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

// Value returns the current RSI, or NeutralRSI until Ready.
func (r *RSIState) Value() float64 { return r.current }
func (r *RSIState) Ready() bool    { return r.count > r.period }

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// RSI returns Wilder's RSI of prices. Fewer than period+1 prices (or a
// non-positive period) yield NeutralRSI. The result is always in [0, 100].
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return NeutralRSI
	}
	r := NewRSI(period)
	for _, p := range prices {
		r.Update(p)
	}
	return r.Value()
}
