package indicator

import "signal-engine/internal/model"

// SMAState calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMAState struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMAState {
	return &SMAState{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMAState) Name() string { return "SMA" }

func (s *SMAState) Update(price float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	// Before the window fills, Value is the partial mean of what was seen.
	n := s.count
	if n > s.period {
		n = s.period
	}
	s.current = s.sum / float64(n)
}

func (s *SMAState) Value() float64 { return s.current }
func (s *SMAState) Ready() bool    { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMAState) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// SMA returns the mean of the trailing period values. It fails with
// *model.InsufficientDataError when fewer than period values exist.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, &model.InsufficientDataError{What: "SMA", Need: period, Have: len(values)}
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// SMASeries returns the SMA at every index of values. Indices before period
// is reached hold the partial mean of all values so far (backfill policy).
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	s := NewSMA(period)
	for i, v := range values {
		s.Update(v)
		out[i] = s.Value()
	}
	return out
}

// MovingAverage returns the trailing SMA of values as a model.MA. When fewer
// than period values exist, Value is the partial mean and Ready is false.
func MovingAverage(values []float64, period int) model.MA {
	ma := model.MA{Period: period}
	if len(values) == 0 || period <= 0 {
		return ma
	}
	s := SMASeries(values, period)
	ma.Value = s[len(s)-1]
	ma.Ready = len(values) >= period
	return ma
}

// ExpMovingAverage returns the EMA of values as a model.MA.
func ExpMovingAverage(values []float64, period int) model.MA {
	ma := model.MA{Period: period}
	if len(values) == 0 || period <= 0 {
		return ma
	}
	ma.Value = EMALast(values, period)
	ma.Ready = len(values) >= period
	return ma
}
