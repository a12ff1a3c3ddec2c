// Package scheduler runs evaluation cycles on a cron schedule: refresh each
// symbol's series, evaluate all timeframes, publish the aggregate and run
// alert admission.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signal-engine/internal/alert"
	"signal-engine/internal/analysis"
	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/series"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// DefaultSpec evaluates every five minutes, on the minute.
const DefaultSpec = "0 */5 * * * *"

// Config controls cycle cadence and fan-out.
type Config struct {
	Symbols []string
	// Spec is a six-field cron expression (with seconds).
	Spec string
	// Concurrency bounds how many symbols evaluate at once.
	Concurrency int
	// CycleTimeout bounds one whole cycle. Zero means no limit.
	CycleTimeout time.Duration
}

// Deps are the scheduler's collaborators. Engine and Registry are
// required; the rest are optional.
type Deps struct {
	Engine   *analysis.Engine
	Registry *series.Registry

	// Refresh, when set, is fetched into the registry before evaluation.
	Refresh model.CandleSource
	// Sink persists refreshed candles.
	Sink model.CandleSink

	Publishers []model.AnalysisPublisher
	Recorder   model.AnalysisRecorder
	Dispatcher *alert.Dispatcher

	Health  *metrics.HealthStatus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// SymbolResult is one symbol's outcome within a cycle.
type SymbolResult struct {
	Symbol    string
	Aggregate *model.AggregateResult
	Outcomes  []alert.Outcome
	Err       error
}

// CycleReport summarises one cycle. Results follow Config.Symbols order.
type CycleReport struct {
	CycleID  string
	Started  time.Time
	Duration time.Duration
	Results  []SymbolResult
}

// Err joins all per-symbol errors.
func (r CycleReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Scheduler owns the cron instance. RunCycle may also be called directly.
type Scheduler struct {
	cfg  Config
	deps Deps
	cron *cron.Cron
	log  *slog.Logger

	mu      sync.Mutex
	running bool
	last    *CycleReport
}

// New validates cfg and builds a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Engine == nil || deps.Registry == nil {
		return nil, errors.New("scheduler: engine and registry are required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, &model.ConfigurationError{Field: "symbols", Reason: "at least one symbol is required"}
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Scheduler{
		cfg:  cfg,
		deps: deps,
		cron: cron.New(cron.WithSeconds()),
		log:  deps.Logger,
	}
	return s, nil
}

// Register adds the evaluation job to the cron schedule. ctx is the parent
// of every cycle.
func (s *Scheduler) Register(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Spec, func() { s.tick(ctx) }); err != nil {
		return &model.ConfigurationError{Field: "schedule.evaluate_cron", Reason: err.Error()}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "spec", s.cfg.Spec, "symbols", len(s.cfg.Symbols))
}

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// LastReport returns the most recent completed cycle, if any.
func (s *Scheduler) LastReport() (CycleReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// tick skips the cycle when the previous one is still running.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("previous cycle still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	s.RunCycle(ctx)
}

// RunCycle evaluates every symbol once. A failing symbol never aborts its
// siblings.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	started := s.deps.Now()
	cycleID := logger.NewCycleID(started)
	ctx = logger.WithCycleID(ctx, cycleID)
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	report := CycleReport{
		CycleID: cycleID,
		Started: started,
		Results: make([]SymbolResult, len(s.cfg.Symbols)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, sym := range s.cfg.Symbols {
		i, sym := i, sym
		g.Go(func() error {
			report.Results[i] = s.evaluateSymbol(gctx, sym)
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(started)
	cycleErr := report.Err()
	if s.deps.Metrics != nil {
		s.deps.Metrics.CycleDur.Observe(report.Duration.Seconds())
	}
	if s.deps.Health != nil {
		s.deps.Health.RecordCycle(started, cycleErr)
	}

	evaluated := 0
	for _, r := range report.Results {
		if r.Aggregate != nil {
			evaluated++
		}
	}
	attrs := append(logger.LogWithCycle(ctx), "symbols", len(s.cfg.Symbols), "evaluated", evaluated, "took", report.Duration)
	if cycleErr != nil {
		s.log.Warn("cycle finished with errors", append(attrs, "error", cycleErr)...)
	} else {
		s.log.Info("cycle finished", attrs...)
	}

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

func (s *Scheduler) evaluateSymbol(ctx context.Context, symbol string) SymbolResult {
	res := SymbolResult{Symbol: symbol}
	if s.deps.Refresh != nil {
		s.refresh(ctx, symbol)
	}

	agg, err := s.deps.Engine.EvaluateAllTimeframes(ctx, symbol)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientData) {
			s.log.Info("symbol skipped", append(logger.LogWithCycle(ctx), "symbol", symbol, "reason", err.Error())...)
		} else {
			s.log.Error("symbol evaluation failed", append(logger.LogWithCycle(ctx), "symbol", symbol, "error", err)...)
		}
		res.Err = fmt.Errorf("%s: %w", symbol, err)
		return res
	}
	res.Aggregate = &agg

	for _, p := range s.deps.Publishers {
		if err := p.PublishAnalysis(ctx, agg); err != nil {
			s.log.Warn("publish analysis failed", append(logger.LogWithCycle(ctx), "symbol", symbol, "error", err)...)
		}
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordAnalysis(ctx, agg); err != nil {
			s.log.Warn("record analysis failed", append(logger.LogWithCycle(ctx), "symbol", symbol, "error", err)...)
		}
	}
	if s.deps.Dispatcher != nil {
		res.Outcomes = s.deps.Dispatcher.DispatchAggregate(ctx, agg)
	}

	s.log.Info("symbol evaluated", append(logger.LogWithCycle(ctx),
		"symbol", symbol,
		"score", agg.OverallScore,
		"recommendation", string(agg.OverallRecommendation),
		"confidence", agg.OverallConfidence,
		"missing", len(agg.Missing),
	)...)
	return res
}

// refresh pulls each timeframe from the refresh source into the registry.
// Failures are logged; evaluation proceeds on whatever the registry holds.
func (s *Scheduler) refresh(ctx context.Context, symbol string) {
	src := s.deps.Refresh
	if s.deps.Sink != nil {
		src = teeSource{src: src, sink: s.deps.Sink, log: s.log}
	}
	for _, tf := range s.deps.Engine.Timeframes() {
		appended, rejected, err := s.deps.Registry.Load(ctx, src, symbol, tf, 0)
		if err != nil {
			s.log.Warn("refresh failed", append(logger.LogWithCycle(ctx), "symbol", symbol, "tf", string(tf), "error", err)...)
			continue
		}
		if rejected > 0 {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CandlesRejected.Add(float64(rejected))
			}
			s.log.Warn("refresh rejected candles", append(logger.LogWithCycle(ctx), "symbol", symbol, "tf", string(tf), "rejected", rejected)...)
		}
		s.log.Debug("refreshed", append(logger.LogWithCycle(ctx), "symbol", symbol, "tf", string(tf), "appended", appended)...)
	}
}

// teeSource persists every fetched window to sink.
type teeSource struct {
	src  model.CandleSource
	sink model.CandleSink
	log  *slog.Logger
}

func (t teeSource) FetchWindow(ctx context.Context, symbol string, tf model.Timeframe, minLength int) ([]model.Candle, error) {
	candles, err := t.src.FetchWindow(ctx, symbol, tf, minLength)
	if err != nil {
		return nil, err
	}
	if err := t.sink.UpsertCandles(ctx, symbol, tf, candles); err != nil {
		t.log.Warn("persist candles failed", "symbol", symbol, "tf", string(tf), "error", err)
	}
	return candles, nil
}
