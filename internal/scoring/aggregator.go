package scoring

import (
	"fmt"
	"math"

	"signal-engine/internal/model"
)

// weightTolerance is how far the weight table may drift from 1.0.
const weightTolerance = 1e-6

// DefaultWeights is the reference timeframe weight table.
func DefaultWeights() map[model.Timeframe]float64 {
	return map[model.Timeframe]float64{
		model.TF30m: 0.10,
		model.TF1h:  0.15,
		model.TF4h:  0.25,
		model.TF1d:  0.35,
		model.TF1w:  0.15,
	}
}

// ValidateWeights requires known timeframes, non-negative weights and a sum
// of 1.0.
func ValidateWeights(weights map[model.Timeframe]float64) error {
	if len(weights) == 0 {
		return &model.ConfigurationError{Field: "timeframe_weights", Reason: "empty weight table"}
	}
	sum := 0.0
	for tf, w := range weights {
		if !tf.Valid() {
			return &model.ConfigurationError{Field: "timeframe_weights", Reason: fmt.Sprintf("unknown timeframe %q", tf)}
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return &model.ConfigurationError{Field: "timeframe_weights", Reason: fmt.Sprintf("weight for %s must be a non-negative number, got %g", tf, w)}
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return &model.ConfigurationError{Field: "timeframe_weights", Reason: fmt.Sprintf("weights must sum to 1.0, got %g", sum)}
	}
	return nil
}

// Aggregator combines per-timeframe results with a fixed weight table.
type Aggregator struct {
	weights map[model.Timeframe]float64
	bands   Bands
}

// NewAggregator validates weights and bands.
func NewAggregator(weights map[model.Timeframe]float64, bands Bands) (*Aggregator, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	w := make(map[model.Timeframe]float64, len(weights))
	for tf, v := range weights {
		w[tf] = v
	}
	return &Aggregator{weights: w, bands: bands}, nil
}

// Timeframes returns the weighted timeframes, shortest first.
func (a *Aggregator) Timeframes() []model.Timeframe {
	out := make([]model.Timeframe, 0, len(a.weights))
	for _, tf := range model.AllTimeframes {
		if _, ok := a.weights[tf]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// Aggregate computes the weighted mean score over the timeframes present in
// results. Missing timeframes are excluded and the remaining weights are
// renormalised to sum to 1. Overall confidence is the plain mean of the
// included confidences. Results for timeframes outside the weight table are
// ignored. With nothing usable it returns *model.InsufficientDataError.
func (a *Aggregator) Aggregate(symbol string, results map[model.Timeframe]model.AnalysisResult) (model.AggregateResult, error) {
	out := model.AggregateResult{
		Symbol:       symbol,
		PerTimeframe: make(map[model.Timeframe]model.AnalysisResult),
		Weights:      make(map[model.Timeframe]float64),
	}

	total := 0.0
	for _, tf := range a.Timeframes() {
		w := a.weights[tf]
		res, ok := results[tf]
		if !ok {
			out.Missing = append(out.Missing, tf)
			continue
		}
		if w == 0 {
			continue
		}
		out.PerTimeframe[tf] = res
		out.Weights[tf] = w
		total += w
	}
	if total == 0 {
		return model.AggregateResult{}, &model.InsufficientDataError{
			What: symbol + " aggregate",
			Need: 1,
			Have: 0,
		}
	}

	var score, conf float64
	// Iterate in timeframe order so the float sums are deterministic.
	for _, tf := range model.AllTimeframes {
		res, ok := out.PerTimeframe[tf]
		if !ok {
			continue
		}
		w := out.Weights[tf] / total
		out.Weights[tf] = w
		score += w * float64(res.Score)
		conf += res.Confidence
	}
	out.OverallScore = score
	out.OverallConfidence = conf / float64(len(out.PerTimeframe))
	out.OverallRecommendation = a.bands.Recommend(score)
	return out, nil
}
