package indicator

import "signal-engine/internal/model"

// MACDSeries returns the MACD line, signal line and histogram at every index.
// line = EMA(fast) − EMA(slow); signal = EMA(signalPeriod) of line;
// histogram = line − signal.
func MACDSeries(prices []float64, fast, slow, signalPeriod int) (line, signal, hist []float64) {
	ef := EMASeries(prices, fast)
	es := EMASeries(prices, slow)
	line = make([]float64, len(prices))
	for i := range prices {
		line[i] = ef[i] - es[i]
	}
	signal = EMASeries(line, signalPeriod)
	hist = make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

// MACD returns the latest MACD values of prices. An empty input yields zeros.
func MACD(prices []float64, fast, slow, signalPeriod int) model.MACDValue {
	if len(prices) == 0 {
		return model.MACDValue{}
	}
	line, signal, hist := MACDSeries(prices, fast, slow, signalPeriod)
	n := len(prices) - 1
	return model.MACDValue{Line: line[n], Signal: signal[n], Histogram: hist[n]}
}
