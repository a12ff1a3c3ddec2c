// Package binance fetches closed klines from the Binance spot REST API.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

// maxLimit is the largest page the klines endpoint returns.
const maxLimit = 1000

var intervals = map[model.Timeframe]string{
	model.TF30m: "30m",
	model.TF1h:  "1h",
	model.TF4h:  "4h",
	model.TF1d:  "1d",
	model.TF1w:  "1w",
}

// Interval returns the Binance interval string for tf.
func Interval(tf model.Timeframe) (string, bool) {
	s, ok := intervals[tf]
	return s, ok
}

// Config configures the fetcher.
type Config struct {
	APIKey    string
	SecretKey string
	// BaseURL overrides the REST endpoint (testnet, tests).
	BaseURL string

	// Lookback is how many candles to request per call.
	Lookback int
	// RateLimit in requests per second; Burst defaults to 2x.
	RateLimit float64
	Burst     int

	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// Fetcher implements model.CandleSource over the klines endpoint.
type Fetcher struct {
	client  *binance.Client
	limiter *rate.Limiter
	cfg     Config
	prom    *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New creates a fetcher.
func New(cfg Config, prom *metrics.Metrics, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 300
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		// Fractional rates still need room for one request.
		cfg.Burst = max(1, int(math.Ceil(cfg.RateLimit*2)))
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		cfg:     cfg,
		prom:    prom,
		log:     log,
		now:     time.Now,
	}
}

// FetchWindow returns the most recent closed candles for (symbol, tf) in
// ascending order. The still-forming candle is never included. Fewer than
// minLength closed candles is *model.InsufficientDataError.
func (f *Fetcher) FetchWindow(ctx context.Context, symbol string, tf model.Timeframe, minLength int) ([]model.Candle, error) {
	interval, ok := Interval(tf)
	if !ok {
		return nil, fmt.Errorf("binance: unsupported timeframe %q", tf)
	}

	// One extra for the forming candle.
	limit := f.cfg.Lookback
	if minLength > limit {
		limit = minLength
	}
	limit++
	if limit > maxLimit {
		limit = maxLimit
	}

	start := time.Now()
	klines, err := f.klines(ctx, symbol, interval, limit)
	if f.prom != nil {
		f.prom.FetchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if f.prom != nil {
			f.prom.FetchErrors.Inc()
		}
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	nowMs := f.now().UnixMilli()
	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime >= nowMs {
			continue
		}
		c, err := toCandle(k)
		if err != nil {
			f.log.Warn("binance kline skipped", "symbol", symbol, "tf", string(tf), "open_time", k.OpenTime, "error", err)
			continue
		}
		candles = append(candles, c)
	}
	if f.prom != nil {
		f.prom.CandlesIngested.WithLabelValues("binance").Add(float64(len(candles)))
	}

	if len(candles) < minLength {
		return nil, &model.InsufficientDataError{
			What: model.SeriesKey{Symbol: symbol, Timeframe: tf}.String(),
			Need: minLength,
			Have: len(candles),
		}
	}
	return candles, nil
}

// klines calls the endpoint with rate limiting and exponential backoff.
func (f *Fetcher) klines(ctx context.Context, symbol, interval string, limit int) ([]*binance.Kline, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return klines, nil
		}
		lastErr = err
		if attempt == f.cfg.MaxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * f.cfg.Backoff
		f.log.Debug("binance retry", "symbol", symbol, "interval", interval, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func toCandle(k *binance.Kline) (model.Candle, error) {
	var c model.Candle
	var err error
	c.TS = time.UnixMilli(k.OpenTime).UTC()
	if c.Open, err = parseFloat(k.Open); err != nil {
		return c, err
	}
	if c.High, err = parseFloat(k.High); err != nil {
		return c, err
	}
	if c.Low, err = parseFloat(k.Low); err != nil {
		return c, err
	}
	if c.Close, err = parseFloat(k.Close); err != nil {
		return c, err
	}
	if c.Volume, err = parseFloat(k.Volume); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

var _ model.CandleSource = (*Fetcher)(nil)
