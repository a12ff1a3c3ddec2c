// Package analysis evaluates symbols end to end: series window → indicator
// snapshot → signals → score, per timeframe and aggregated across them.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/scoring"
	"signal-engine/internal/signals"
)

// Engine is safe for concurrent use: it holds no mutable state of its own
// and every evaluation works on a private copy of the window.
type Engine struct {
	source   model.CandleSource
	params   indicator.Params
	detector *signals.Detector
	scorer   *scoring.Scorer
	agg      *scoring.Aggregator
	log      *slog.Logger
	prom     *metrics.Metrics // optional
}

// Config groups the Engine's collaborators.
type Config struct {
	Source     model.CandleSource // typically the series registry
	Params     indicator.Params
	Detector   *signals.Detector
	Scorer     *scoring.Scorer
	Aggregator *scoring.Aggregator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Detector == nil || cfg.Scorer == nil || cfg.Aggregator == nil {
		return nil, errors.New("analysis: source, detector, scorer and aggregator are required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, &model.ConfigurationError{Field: "indicators", Reason: err.Error()}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		source:   cfg.Source,
		params:   cfg.Params,
		detector: cfg.Detector,
		scorer:   cfg.Scorer,
		agg:      cfg.Aggregator,
		log:      log,
		prom:     cfg.Metrics,
	}, nil
}

// MinCandles is the shortest window the engine can evaluate.
func (e *Engine) MinCandles() int { return e.params.MinCandles() }

// Timeframes returns the timeframes EvaluateAllTimeframes visits.
func (e *Engine) Timeframes() []model.Timeframe { return e.agg.Timeframes() }

// Evaluate scores one (symbol, timeframe). It fails with
// *model.InsufficientDataError when the series is too short. Calling it
// twice on an unchanged series returns identical results.
func (e *Engine) Evaluate(ctx context.Context, symbol string, tf model.Timeframe) (model.AnalysisResult, error) {
	window, err := e.source.FetchWindow(ctx, symbol, tf, e.params.MinCandles())
	if err != nil {
		e.observe(tf, err)
		return model.AnalysisResult{}, fmt.Errorf("fetch %s:%s: %w", symbol, tf, err)
	}
	res, err := e.EvaluateWindow(symbol, tf, window)
	e.observe(tf, err)
	return res, err
}

// EvaluateWindow scores an explicit window (timestamp ascending). The
// previous snapshot for crossover detection is computed from the same window
// minus its last candle, so the result depends only on the window.
func (e *Engine) EvaluateWindow(symbol string, tf model.Timeframe, window []model.Candle) (model.AnalysisResult, error) {
	start := time.Now()
	curr, err := indicator.Compute(window, e.params)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("%s:%s: %w", symbol, tf, err)
	}

	var prev *model.IndicatorSnapshot
	if len(window) > e.params.MinCandles() {
		p, err := indicator.Compute(window[:len(window)-1], e.params)
		if err == nil {
			prev = &p
		}
	}

	sigs := e.detector.Detect(prev, curr)
	res := e.scorer.Score(symbol, tf, curr, sigs)

	if e.prom != nil {
		e.prom.EvaluationDur.Observe(time.Since(start).Seconds())
		for _, s := range sigs {
			e.prom.SignalsTotal.WithLabelValues(string(s.Name)).Inc()
		}
	}
	return res, nil
}

// EvaluateAllTimeframes evaluates every weighted timeframe for symbol and
// aggregates the results. Timeframes without enough data are skipped and
// reported in Missing; other per-timeframe failures are logged and skipped
// too. It fails only when no timeframe could be evaluated.
func (e *Engine) EvaluateAllTimeframes(ctx context.Context, symbol string) (model.AggregateResult, error) {
	results := make(map[model.Timeframe]model.AnalysisResult)
	var errs []error

	for _, tf := range e.agg.Timeframes() {
		if err := ctx.Err(); err != nil {
			return model.AggregateResult{}, err
		}
		res, err := e.Evaluate(ctx, symbol, tf)
		switch {
		case err == nil:
			results[tf] = res
		case errors.Is(err, model.ErrInsufficientData):
			e.log.Debug("timeframe skipped", append(logger.LogWithCycle(ctx), "symbol", symbol, "tf", tf, "reason", err.Error())...)
		default:
			e.log.Warn("timeframe evaluation failed", append(logger.LogWithCycle(ctx), "symbol", symbol, "tf", tf, "error", err)...)
			errs = append(errs, err)
		}
	}

	agg, err := e.agg.Aggregate(symbol, results)
	if err != nil {
		if len(errs) > 0 {
			return model.AggregateResult{}, fmt.Errorf("evaluate %s: %w", symbol, errors.Join(errs...))
		}
		return model.AggregateResult{}, err
	}
	if e.prom != nil {
		e.prom.OverallScore.WithLabelValues(symbol).Set(agg.OverallScore)
	}
	return agg, nil
}

func (e *Engine) observe(tf model.Timeframe, err error) {
	if e.prom == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		outcome = "insufficient"
	case err != nil:
		outcome = "error"
	}
	e.prom.EvaluationsTotal.WithLabelValues(string(tf), outcome).Inc()
}
