package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"callisto/internal/config"
	"callisto/internal/datafeed"
	"callisto/internal/store"
	"callisto/internal/util"
)

func main() {
	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bars := store.NewParquetStore(cfg.Storage.DataDir)

	fetcher := datafeed.NewDailyBarFetcher(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		bars,
		cfg.Fetch.Symbols,
		cfg.Fetch.BatchSize,
		cfg.Fetch.RateLimitPerMin,
		cfg.Fetch.StartDate,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting fetch", "fetcher", fetcher.Name())
	if err := fetcher.Run(ctx); err != nil {
		log.Fatalf("fetch error: %v", err)
	}
}
