// cmd/evaluate runs a single multi-timeframe evaluation for one symbol and
// prints the aggregate as JSON. No alerts are sent.
//
// Usage:
//
//	go run ./cmd/evaluate --symbol=BTCUSDT --source=binance
//	go run ./cmd/evaluate --symbol=ETHUSDT --source=sqlite --tf=4h
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"signal-engine/config"
	"signal-engine/internal/logger"
	"signal-engine/internal/marketdata/binance"
	"signal-engine/internal/model"
	"signal-engine/internal/service"
	sqlitestore "signal-engine/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to evaluate")
	source := flag.String("source", "binance", "candle source: binance or sqlite")
	tfStr := flag.String("tf", "", "evaluate a single timeframe (30m, 1h, 4h, 1d, 1w) instead of all")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the result; logs go to stderr.
	log := logger.InitWriter(os.Stderr, "evaluate", logger.ParseLevel(cfg.LogLevel))

	var src model.CandleSource
	switch strings.ToLower(*source) {
	case "binance":
		src = binance.New(binance.Config{
			APIKey:     cfg.Binance.APIKey,
			SecretKey:  cfg.Binance.SecretKey,
			BaseURL:    cfg.Binance.BaseURL,
			Lookback:   cfg.Binance.Lookback,
			RateLimit:  cfg.Binance.RateLimit,
			MaxRetries: cfg.Binance.MaxRetries,
		}, nil, log)
	case "sqlite":
		st, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLite.Path, Lookback: cfg.SQLite.Lookback}, nil, log)
		if err != nil {
			log.Error("sqlite open failed", "path", cfg.SQLite.Path, "error", err)
			os.Exit(1)
		}
		defer st.Close()
		src = st
	default:
		log.Error("unknown source", "source", *source)
		os.Exit(2)
	}

	engine, err := service.NewEngine(cfg, src, nil, log)
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sym := strings.ToUpper(*symbol)
	var out interface{}
	if *tfStr != "" {
		tf, err := model.ParseTimeframe(*tfStr)
		if err != nil {
			log.Error("bad timeframe", "tf", *tfStr, "error", err)
			os.Exit(2)
		}
		out, err = engine.Evaluate(ctx, sym, tf)
		if err != nil {
			log.Error("evaluation failed", "symbol", sym, "tf", tf, "error", err)
			os.Exit(1)
		}
	} else {
		out, err = engine.EvaluateAllTimeframes(ctx, sym)
		if err != nil {
			log.Error("evaluation failed", "symbol", sym, "error", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error("encode failed", "error", err)
		os.Exit(1)
	}
}
