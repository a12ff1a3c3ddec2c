// Package service wires the signal engine: stores, market data, the analysis
// engine, alerting, the scheduler and the HTTP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signal-engine/config"
	"signal-engine/internal/alert"
	"signal-engine/internal/analysis"
	"signal-engine/internal/api"
	"signal-engine/internal/marketdata/binance"
	"signal-engine/internal/marketdata/bus"
	"signal-engine/internal/marketdata/stream"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/scheduler"
	"signal-engine/internal/scoring"
	"signal-engine/internal/series"
	"signal-engine/internal/signals"
	redisstore "signal-engine/internal/store/redis"
	sqlitestore "signal-engine/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	analysisRetention = 30 * 24 * time.Hour
	pruneInterval     = 6 * time.Hour
	livenessInterval  = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Service is the top-level orchestrator. New connects every dependency;
// Run starts the goroutines and blocks until ctx is cancelled.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	sql   *sqlitestore.Store
	redis *redisstore.Store // nil when Redis is unavailable

	registry *series.Registry
	fetcher  *binance.Fetcher
	engine   *analysis.Engine
	ctrl     *alert.Controller
	hub      *api.Hub
	sched    *scheduler.Scheduler

	metricsSrv *metrics.Server
	apiSrv     *http.Server

	// streams tracks the candle pipeline; shutdown waits on it before the
	// stores are closed so the final SQLite flush lands.
	streams sync.WaitGroup
}

// New builds the service from cfg. SQLite is required; Redis is optional.
func New(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	svc := &Service{
		cfg:    cfg,
		log:    log,
		reg:    prometheus.NewRegistry(),
		health: metrics.NewHealthStatus(),
	}
	svc.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc.prom = metrics.NewMetrics(svc.reg)
	svc.health.SetSymbols(cfg.Symbols)

	// ---- SQLite ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	var err error
	svc.sql, err = sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLite.Path, Lookback: cfg.SQLite.Lookback}, svc.prom, log)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	svc.health.SetSQLiteOK(true)

	// ---- Redis ----
	if cfg.Redis.Addr != "" {
		svc.redis, err = redisstore.New(redisstore.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			CooldownTTL: 48 * time.Hour,
		}, svc.prom, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			svc.redis = nil
		} else {
			svc.health.SetRedisConnected(true)
		}
	}
	svc.health.SetExpected(cfg.Stream.Enabled, svc.redis != nil, true)

	// ---- Analysis core ----
	svc.registry = series.NewRegistry(cfg.SeriesSize)
	svc.engine, err = NewEngine(cfg, svc.registry, svc.prom, log)
	if err != nil {
		svc.closeStores()
		return nil, err
	}

	svc.fetcher = binance.New(binance.Config{
		APIKey:     cfg.Binance.APIKey,
		SecretKey:  cfg.Binance.SecretKey,
		BaseURL:    cfg.Binance.BaseURL,
		Lookback:   cfg.Binance.Lookback,
		RateLimit:  cfg.Binance.RateLimit,
		MaxRetries: cfg.Binance.MaxRetries,
	}, svc.prom, log)

	// ---- Alerting ----
	svc.ctrl = alert.NewController(cfg.AlertConfig())
	svc.hub = api.NewHub(log)

	dcfg := alert.DispatcherConfig{
		Controller: svc.ctrl,
		Notifiers:  svc.notifiers(),
		Journal:    svc.sql,
		Params:     alert.CandidateParams{MinConfidence: cfg.Alerts.MinConfidence},
		Metrics:    svc.prom,
		Logger:     log,
	}
	publishers := []model.AnalysisPublisher{svc.hub}
	if svc.redis != nil {
		dcfg.State = svc.redis
		publishers = append(publishers, svc.redis)
	}

	// With the live stream on, REST is only used for the warm-up backfill.
	var refresh model.CandleSource
	if !cfg.Stream.Enabled {
		refresh = svc.fetcher
	}

	svc.sched, err = scheduler.New(scheduler.Config{
		Symbols:      cfg.Symbols,
		Spec:         cfg.Schedule.EvaluateCron,
		Concurrency:  cfg.Schedule.Concurrency,
		CycleTimeout: cfg.Schedule.CycleTimeout,
	}, scheduler.Deps{
		Engine:     svc.engine,
		Registry:   svc.registry,
		Refresh:    refresh,
		Sink:       svc.sql,
		Publishers: publishers,
		Recorder:   svc.sql,
		Dispatcher: alert.NewDispatcher(dcfg),
		Health:     svc.health,
		Metrics:    svc.prom,
		Logger:     log,
	})
	if err != nil {
		svc.closeStores()
		return nil, err
	}

	svc.metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.reg, svc.health, log)
	svc.apiSrv = &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewRouter(svc.routerDeps()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return svc, nil
}

// NewEngine builds the analysis engine described by cfg over src.
func NewEngine(cfg *config.Config, src model.CandleSource, prom *metrics.Metrics, log *slog.Logger) (*analysis.Engine, error) {
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	agg, err := scoring.NewAggregator(cfg.TimeframeWeights, cfg.Scoring.Bands)
	if err != nil {
		return nil, err
	}
	return analysis.New(analysis.Config{
		Source:     src,
		Params:     cfg.Indicators,
		Detector:   signals.NewDetector(cfg.Signals),
		Scorer:     scorer,
		Aggregator: agg,
		Logger:     log,
		Metrics:    prom,
	})
}

// notifiers builds the delivery channels that are configured. The log
// notifier and the WebSocket hub are always present.
func (svc *Service) notifiers() []notification.Notifier {
	cfg := svc.cfg
	out := []notification.Notifier{notification.NewLogNotifier(svc.log), svc.hub}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		out = append(out, notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, svc.log))
	}
	if cfg.Discord.WebhookURL != "" {
		out = append(out, notification.NewDiscordNotifier(cfg.Discord.WebhookURL, cfg.Discord.Username, svc.log))
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.Webhook.URL, svc.log))
	}
	if svc.redis != nil {
		out = append(out, svc.redis)
	}
	return out
}

func (svc *Service) routerDeps() api.Deps {
	d := api.Deps{
		Hub:        svc.hub,
		Evaluator:  svc.engine,
		Latest:     svc.sql,
		Decisions:  svc.sql,
		Controller: svc.ctrl,
		Logger:     svc.log,
	}
	if svc.redis != nil {
		d.Latest = svc.redis
	}
	return d
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting signal engine", "symbols", cfg.Symbols, "schedule", cfg.Schedule.EvaluateCron)

	svc.metricsSrv.Start()
	defer svc.shutdown()
	// Cancelled before shutdown runs, also on early returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sql.DB(), livenessInterval)

	svc.restoreCooldowns(ctx)
	svc.warmUp(ctx)

	if cfg.Stream.Enabled {
		if err := svc.startStream(ctx); err != nil {
			return err
		}
	}

	if err := svc.sched.Register(ctx); err != nil {
		return err
	}
	svc.sched.Start()
	go svc.pruneLoop(ctx)

	go func() {
		svc.log.Info("api server listening", "addr", cfg.APIAddr)
		if err := svc.apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.log.Error("api server error", "error", err)
		}
	}()

	if cfg.Schedule.RunOnStart {
		report := svc.sched.RunCycle(ctx)
		if err := report.Err(); err != nil {
			svc.log.Warn("initial cycle finished with errors", "cycle_id", report.CycleID, "error", err)
		}
	}

	svc.log.Info("all systems running")
	<-ctx.Done()
	return nil
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.redis == nil {
		return nil
	}
	return svc.redis.Client()
}

// restoreCooldowns loads the persisted admission state so a restart does
// not re-send alerts that are still cooling down.
func (svc *Service) restoreCooldowns(ctx context.Context) {
	if svc.redis == nil {
		return
	}
	st, found, err := svc.redis.LoadCooldowns(ctx)
	if err != nil {
		svc.log.Warn("cooldown restore failed", "error", err)
		return
	}
	if !found {
		return
	}
	svc.ctrl.Restore(st)
	svc.log.Info("cooldowns restored", "keys", len(st.LastSent), "daily_count", st.DailyCount)
}

// warmUp fills the series registry from SQLite, then tops it up from the
// exchange. Both steps are best effort per series.
func (svc *Service) warmUp(ctx context.Context) {
	minLen := svc.engine.MinCandles()
	for _, sym := range svc.cfg.Symbols {
		for _, tf := range svc.engine.Timeframes() {
			n, rejected, err := svc.registry.Load(ctx, svc.sql, sym, tf, minLen)
			if err != nil && !errors.Is(err, model.ErrInsufficientData) {
				svc.log.Warn("sqlite warm-up failed", "symbol", sym, "tf", tf, "error", err)
			}
			svc.log.Debug("sqlite warm-up", "symbol", sym, "tf", tf, "candles", n, "rejected", rejected)

			candles, err := svc.fetcher.FetchWindow(ctx, sym, tf, minLen)
			if err != nil {
				svc.log.Warn("exchange backfill failed", "symbol", sym, "tf", tf, "error", err)
				continue
			}
			if err := svc.sql.UpsertCandles(ctx, sym, tf, candles); err != nil {
				svc.log.Warn("persist backfill failed", "symbol", sym, "tf", tf, "error", err)
			}
			if err := svc.registry.AppendAll(sym, tf, candles); err != nil {
				svc.log.Warn("backfill append stopped", "symbol", sym, "tf", tf, "error", err)
			}
		}
	}
}

// startStream connects the kline stream and fans closed candles out to the
// registry and SQLite.
func (svc *Service) startStream(ctx context.Context) error {
	ing, err := stream.New(stream.Config{
		BaseURL:    svc.cfg.Stream.URL,
		Symbols:    svc.cfg.Symbols,
		Timeframes: svc.engine.Timeframes(),
	}, svc.prom, svc.health, svc.log)
	if err != nil {
		return err
	}

	in := make(chan model.KeyedCandle, 1000)
	svc.startPipeline(ctx, in)

	svc.streams.Add(1)
	go func() {
		defer svc.streams.Done()
		if err := ing.Start(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			svc.log.Error("kline stream stopped", "error", err)
		}
	}()
	svc.log.Info("kline stream started", "url", ing.URL())
	return nil
}

// startPipeline fans candles from in out to the registry and the SQLite
// batch writer. Every goroutine is tracked by svc.streams.
func (svc *Service) startPipeline(ctx context.Context, in <-chan model.KeyedCandle) {
	fan := bus.New(1000, svc.log)
	fan.OnDrop = func(subscriber string) {
		svc.log.Warn("candle dropped", "subscriber", subscriber)
	}
	registryCh := fan.Subscribe("registry")
	sqliteCh := fan.Subscribe("sqlite")

	svc.streams.Add(3)
	go func() {
		defer svc.streams.Done()
		fan.Run(ctx, in)
	}()
	go func() {
		defer svc.streams.Done()
		svc.sql.Run(ctx, sqliteCh)
	}()
	go func() {
		defer svc.streams.Done()
		for kc := range registryCh {
			if err := svc.registry.Append(kc.Key.Symbol, kc.Key.Timeframe, kc.Candle); err != nil {
				svc.prom.CandlesRejected.Inc()
				svc.log.Warn("live candle rejected", "key", kc.Key, "error", err)
			}
		}
	}()
}

func (svc *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.sql.PruneAnalysis(ctx, analysisRetention)
			if err != nil {
				svc.log.Warn("analysis prune failed", "error", err)
				continue
			}
			if n > 0 {
				svc.log.Info("analysis history pruned", "rows", n)
			}
		}
	}
}

// shutdown stops the scheduler, persists admission state and closes
// connections.
func (svc *Service) shutdown() {
	svc.log.Info("shutting down")
	svc.sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if svc.redis != nil {
		if err := svc.redis.SaveCooldowns(ctx, svc.ctrl.Snapshot()); err != nil {
			svc.log.Warn("final cooldown save failed", "error", err)
		}
	}
	svc.hub.CloseAll()
	svc.apiSrv.Shutdown(ctx)
	svc.metricsSrv.Stop(ctx)
	svc.streams.Wait()
	svc.closeStores()
	svc.log.Info("shutdown complete")
}

func (svc *Service) closeStores() {
	if svc.redis != nil {
		svc.redis.Close()
	}
	if svc.sql != nil {
		svc.sql.Close()
	}
}
