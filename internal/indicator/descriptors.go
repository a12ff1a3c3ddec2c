package indicator

import "signal-engine/internal/model"

// Volatility returns the population standard deviation of the last window
// close-to-close returns, in percent. Fewer than two returns yield 0.
// Returns over a zero previous close are skipped.
func Volatility(prices []float64, window int) float64 {
	if window <= 0 || len(prices) < 3 {
		return 0
	}
	start := len(prices) - window - 1
	if start < 0 {
		start = 0
	}
	rets := make([]float64, 0, window)
	for i := start + 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		rets = append(rets, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(rets) < 2 {
		return 0
	}
	return stddev(rets, mean(rets)) * 100
}

// Trend compares the mean of the last window prices with the mean of the
// window before it. A move beyond ±thresholdPct percent is BULLISH/BEARISH;
// anything else, or fewer than 2·window prices, is NEUTRAL.
func Trend(prices []float64, window int, thresholdPct float64) model.Trend {
	if window <= 0 || len(prices) < 2*window {
		return model.TrendNeutral
	}
	n := len(prices)
	recent := mean(prices[n-window:])
	prior := mean(prices[n-2*window : n-window])
	if prior == 0 {
		return model.TrendNeutral
	}
	change := (recent - prior) / prior * 100
	switch {
	case change > thresholdPct:
		return model.TrendBullish
	case change < -thresholdPct:
		return model.TrendBearish
	default:
		return model.TrendNeutral
	}
}

// VolumeRatio returns the last volume divided by the mean of up to window
// volumes preceding it. No history, or a zero mean, yields 1.
func VolumeRatio(volumes []float64, window int) float64 {
	n := len(volumes)
	if n < 2 || window <= 0 {
		return 1
	}
	start := n - 1 - window
	if start < 0 {
		start = 0
	}
	avg := mean(volumes[start : n-1])
	if avg == 0 {
		return 1
	}
	return volumes[n-1] / avg
}

// ChangePct returns the close-to-close percentage change of the last price.
// Fewer than two prices, or a zero previous price, yield 0.
func ChangePct(prices []float64) float64 {
	n := len(prices)
	if n < 2 || prices[n-2] == 0 {
		return 0
	}
	return (prices[n-1] - prices[n-2]) / prices[n-2] * 100
}
