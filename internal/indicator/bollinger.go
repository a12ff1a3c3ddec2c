package indicator

import (
	"math"

	"signal-engine/internal/model"
)

// Bollinger returns bands over the trailing period prices: middle = SMA(period),
// upper/lower = middle ± k·σ, where σ is the population standard deviation.
// Fewer than period prices fail with *model.InsufficientDataError.
func Bollinger(prices []float64, period int, k float64) (model.BollingerBands, error) {
	middle, err := SMA(prices, period)
	if err != nil {
		return model.BollingerBands{}, &model.InsufficientDataError{What: "Bollinger", Need: period, Have: len(prices)}
	}
	sd := stddev(prices[len(prices)-period:], middle)
	return model.BollingerBands{
		Upper:  middle + k*sd,
		Middle: middle,
		Lower:  middle - k*sd,
	}, nil
}

// stddev is the population standard deviation of values around mean.
func stddev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
