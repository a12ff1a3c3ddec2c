// Package stream subscribes to the Binance kline WebSocket and emits each
// closed candle as a model.KeyedCandle.
//
// The combined-stream envelope looks like:
//
//	{"stream":"btcusdt@kline_1h","data":{"e":"kline","s":"BTCUSDT","k":{"t":...,"i":"1h","o":"...","x":true}}}
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signal-engine/internal/marketdata/binance"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "wss://stream.binance.com:9443/stream"

// Config holds configuration for the kline stream.
type Config struct {
	// BaseURL of the combined-stream endpoint.
	BaseURL    string
	Symbols    []string
	Timeframes []model.Timeframe

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest reads klines and reconnects with exponential backoff.
type Ingest struct {
	cfg    Config
	url    string
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	log    *slog.Logger
	now    func() time.Time
}

// New builds the subscription URL. It fails on unknown timeframes or an
// empty subscription.
func New(cfg Config, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) (*Ingest, error) {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}

	var streams []string
	for _, sym := range cfg.Symbols {
		for _, tf := range cfg.Timeframes {
			interval, ok := binance.Interval(tf)
			if !ok {
				return nil, fmt.Errorf("stream: unsupported timeframe %q", tf)
			}
			streams = append(streams, strings.ToLower(sym)+"@kline_"+interval)
		}
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("stream: no symbols or timeframes to subscribe")
	}
	u.RawQuery = "streams=" + strings.Join(streams, "/")

	return &Ingest{cfg: cfg, url: u.String(), prom: prom, health: health, log: log, now: time.Now}, nil
}

// URL returns the subscription URL.
func (ing *Ingest) URL() string { return ing.url }

// Start streams closed candles into out. Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.KeyedCandle) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		ing.log.Warn("kline stream disconnected", "error", err, "retry_in", delay)
		if ing.prom != nil {
			ing.prom.WSReconnects.Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx
// cancel. A nil error means ctx was cancelled.
func (ing *Ingest) runOnce(ctx context.Context, out chan<- model.KeyedCandle) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ing.log.Info("kline stream connected", "url", ing.url)
	ing.setConnected(true)
	defer ing.setConnected(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		kc, closed, err := parseKline(raw)
		if err != nil {
			ing.log.Debug("kline parse error", "error", err)
			if ing.prom != nil {
				ing.prom.CandlesRejected.Inc()
			}
			continue
		}
		if !closed {
			continue
		}

		if ing.prom != nil {
			ing.prom.CandlesIngested.WithLabelValues("stream").Inc()
			closeAt := kc.Candle.TS.Add(kc.Key.Timeframe.Duration())
			ing.prom.LastCandleLagSecs.Set(ing.now().Sub(closeAt).Seconds())
		}
		if ing.health != nil {
			ing.health.SetLastCandleTime(ing.now())
		}

		select {
		case out <- kc:
		case <-ctx.Done():
			return true, nil
		}
	}
}

func (ing *Ingest) setConnected(v bool) {
	if ing.health != nil {
		ing.health.SetWSConnected(v)
	}
}

type envelope struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

var timeframeByInterval = func() map[string]model.Timeframe {
	m := make(map[string]model.Timeframe)
	for _, tf := range model.AllTimeframes {
		if s, ok := binance.Interval(tf); ok {
			m[s] = tf
		}
	}
	return m
}()

// parseKline decodes one combined-stream message. closed reports whether
// the kline is final.
func parseKline(raw []byte) (kc model.KeyedCandle, closed bool, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return kc, false, err
	}
	ev := env.Data
	if ev.Event != "kline" {
		return kc, false, fmt.Errorf("unexpected event %q", ev.Event)
	}
	tf, ok := timeframeByInterval[ev.Kline.Interval]
	if !ok {
		return kc, false, fmt.Errorf("unknown interval %q", ev.Kline.Interval)
	}

	c := model.Candle{TS: time.UnixMilli(ev.Kline.OpenTime).UTC()}
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&c.Open, ev.Kline.Open},
		{&c.High, ev.Kline.High},
		{&c.Low, ev.Kline.Low},
		{&c.Close, ev.Kline.Close},
		{&c.Volume, ev.Kline.Volume},
	} {
		v, err := strconv.ParseFloat(f.src, 64)
		if err != nil {
			return kc, false, fmt.Errorf("parse %q: %w", f.src, err)
		}
		*f.dst = v
	}

	kc = model.KeyedCandle{Key: model.SeriesKey{Symbol: ev.Symbol, Timeframe: tf}, Candle: c}
	return kc, ev.Kline.Closed, nil
}
