package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"signal-engine/config"
	"signal-engine/internal/logger"
	"signal-engine/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("signalengine", logger.ParseLevel("info")).Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.Init("signalengine", logger.ParseLevel(cfg.LogLevel))
	log.Info("config loaded", "symbols", cfg.Symbols, "stream", cfg.Stream.Enabled)

	svc, err := service.New(cfg, log)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}
