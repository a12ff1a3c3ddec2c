// Package redis publishes analysis results and alert events to Redis and
// persists the alert cooldown state across restarts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signal-engine/internal/metrics"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultCooldownTTL  = 48 * time.Hour
	defaultMaxPending   = 1000
	defaultStreamMaxLen = 500
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL   time.Duration
	CooldownTTL time.Duration

	// Breaker settings; zero values use 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
	// MaxPending bounds writes held while the breaker is open.
	MaxPending int
}

type pendingWrite struct {
	channel string
	key     string
	stream  string
	data    string
}

// Store writes through a circuit breaker. While the breaker is open,
// analysis publications are held in a bounded buffer and replayed when it
// closes.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker
	cfg    Config
	prom   *metrics.Metrics
	log    *slog.Logger

	mu      sync.Mutex
	pending []pendingWrite
	dropped int
}

// New creates a Store and pings the server.
func New(cfg Config, prom *metrics.Metrics, log *slog.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := NewWithClient(client, cfg, prom, log)
	s.log.Info("redis connected", "addr", cfg.Addr)
	return s, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config, prom *metrics.Metrics, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = defaultCooldownTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}

	s := &Store{
		client: client,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		cfg:    cfg,
		prom:   prom,
		log:    log,
	}
	s.cb.OnStateChange = func(from, to State) {
		s.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		if s.prom != nil {
			s.prom.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				s.prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		if to == StateClosed {
			go s.flush(context.Background())
		}
	}
	return s
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker exposes the circuit breaker state.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) observe(start time.Time) {
	if s.prom != nil {
		s.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
}

func (s *Store) bufferWrite(w pendingWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.cfg.MaxPending {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, w)
}

// Pending returns the number of buffered writes.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	dropped := s.dropped
	s.pending = nil
	s.dropped = 0
	s.mu.Unlock()

	pipe := s.client.Pipeline()
	for _, w := range batch {
		s.queue(ctx, pipe, w)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("redis flush failed", "writes", len(batch), "error", err)
		return
	}
	s.log.Info("redis flushed buffered writes", "writes", len(batch), "dropped", dropped)
}

func (s *Store) queue(ctx context.Context, pipe goredis.Pipeliner, w pendingWrite) {
	if w.key != "" {
		pipe.Set(ctx, w.key, w.data, s.cfg.LatestTTL)
	}
	if w.stream != "" {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: w.stream,
			MaxLen: defaultStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": w.data},
		})
	}
	if w.channel != "" {
		pipe.Publish(ctx, w.channel, w.data)
	}
}

// write runs w through the breaker. Open-breaker writes are buffered when
// bufferable is set and reported as success.
func (s *Store) write(ctx context.Context, w pendingWrite, bufferable bool) error {
	start := time.Now()
	err := s.cb.Execute(func() error {
		pipe := s.client.Pipeline()
		s.queue(ctx, pipe, w)
		_, err := pipe.Exec(ctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) && bufferable {
		s.bufferWrite(w)
		return nil
	}
	if err != nil {
		return err
	}
	s.observe(start)
	return nil
}
