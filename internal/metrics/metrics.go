package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Evaluation pipeline
	EvaluationsTotal *prometheus.CounterVec // labels: tf, outcome=ok|insufficient|error
	EvaluationDur    prometheus.Histogram
	CycleDur         prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: signal
	OverallScore     *prometheus.GaugeVec   // labels: symbol

	// Alert admission and dispatch
	AdmissionsTotal *prometheus.CounterVec // labels: type, result
	DispatchTotal   *prometheus.CounterVec // labels: channel, status=ok|error
	DailyAlerts     prometheus.Gauge

	// Market data
	CandlesIngested   *prometheus.CounterVec // labels: source
	CandlesRejected   prometheus.Counter
	FetchDur          prometheus.Histogram
	FetchErrors       prometheus.Counter
	WSReconnects      prometheus.Counter
	LastCandleLagSecs prometheus.Gauge

	// Storage
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_evaluations_total",
			Help: "Timeframe evaluations by outcome",
		}, []string{"tf", "outcome"}),
		EvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_evaluation_duration_seconds",
			Help:    "Indicator + signal + score latency per timeframe",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_cycle_duration_seconds",
			Help:    "Full evaluation cycle latency across all symbols",
			Buckets: prometheus.DefBuckets,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_total",
			Help: "Signals detected by name",
		}, []string{"signal"}),
		OverallScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalengine_overall_score",
			Help: "Latest aggregate score per symbol",
		}, []string{"symbol"}),

		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_alert_admissions_total",
			Help: "Alert admission decisions by alert type and result",
		}, []string{"type", "result"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_alert_dispatch_total",
			Help: "Alert deliveries by channel and status",
		}, []string{"channel", "status"}),
		DailyAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_alerts_today",
			Help: "Alerts admitted since the last daily reset",
		}),

		CandlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_candles_ingested_total",
			Help: "Candles appended to series buffers by source",
		}, []string{"source"}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_candles_rejected_total",
			Help: "Candles rejected for violating the OHLC invariant",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_fetch_duration_seconds",
			Help:    "Market data REST fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_fetch_errors_total",
			Help: "Market data fetches that failed after retries",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		LastCandleLagSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_candle_lag_seconds",
			Help: "Lag between the newest streamed candle close and wall clock",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_sqlite_commit_duration_seconds",
			Help:    "SQLite commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationDur,
		m.CycleDur,
		m.SignalsTotal,
		m.OverallScore,
		m.AdmissionsTotal,
		m.DispatchTotal,
		m.DailyAlerts,
		m.CandlesIngested,
		m.CandlesRejected,
		m.FetchDur,
		m.FetchErrors,
		m.WSReconnects,
		m.LastCandleLagSecs,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleErr   string    `json:"last_cycle_error"`
	Symbols        []string  `json:"symbols"`

	// Which dependencies are configured; unconfigured ones never degrade health.
	ExpectWS     bool `json:"-"`
	ExpectRedis  bool `json:"-"`
	ExpectSQLite bool `json:"-"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// SetExpected records which dependencies the process was configured with.
func (h *HealthStatus) SetExpected(ws, redis, sqlite bool) {
	h.mu.Lock()
	h.ExpectWS, h.ExpectRedis, h.ExpectSQLite = ws, redis, sqlite
	h.mu.Unlock()
}

// RecordCycle stores the completion time and error (if any) of a cycle.
func (h *HealthStatus) RecordCycle(at time.Time, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleErr = ""
	if err != nil {
		h.LastCycleErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.ExpectRedis && !h.RedisConnected
	sqliteDown := h.ExpectSQLite && !h.SQLiteOK
	if (h.ExpectWS && !h.WSConnected) || redisDown || sqliteDown || h.LastCycleErr != "" {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	// Candle age
	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		WSConnected     bool     `json:"ws_connected"`
		LastCandleTime  string   `json:"last_candle_time"`
		CandleAge       string   `json:"candle_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		LastCycleAt     string   `json:"last_cycle_at"`
		LastCycleErr    string   `json:"last_cycle_error,omitempty"`
		Symbols         []string `json:"symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		LastCycleErr:    h.LastCycleErr,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, plus any
// extra read-only handlers mounted by the caller.
type Server struct {
	mux  *http.ServeMux
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		mux:  mux,
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an additional handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
