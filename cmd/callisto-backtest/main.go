package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"callisto/internal/backtest"
	"callisto/internal/backtest/builtins"
	"callisto/internal/config"
	"callisto/internal/domain"
	"callisto/internal/market"
	"callisto/internal/stats"
	"callisto/internal/store"
	"callisto/internal/util"
)

func main() {
	noSave := flag.Bool("no-save", false, "skip persisting the run to the results database")
	flag.Parse()

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

	start, end, err := cfg.Backtest.Window()
	if err != nil {
		log.Fatalf("invalid backtest window: %v", err)
	}
	if len(cfg.Backtest.Symbols) == 0 {
		log.Fatal("backtest.symbols is empty")
	}

	registry := backtest.NewRegistry()
	registry.Register("sma-cross", func(params map[string]float64) backtest.Strategy {
		short := intParam(params, "short", 10)
		long := intParam(params, "long", 30)
		return builtins.NewSMACross(cfg.Backtest.Symbols[0], short, long, params["allocation"])
	})
	registry.Register("buy-hold", func(params map[string]float64) backtest.Strategy {
		return builtins.NewBuyAndHold(cfg.Backtest.Symbols)
	})

	factory, ok := registry.Get(cfg.Backtest.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (have %v)", cfg.Backtest.Strategy, registry.List())
	}
	strategy := factory(cfg.Backtest.Params)

	ctx := context.Background()
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	// Load a year of history before the window so indicator warm-up and the
	// pre-window decision bar are available.
	loadFrom := start.AddDate(-1, 0, 0)
	var all []domain.Bar
	for _, sym := range cfg.Backtest.Symbols {
		symBars, err := bars.ReadBars(ctx, sym, loadFrom, end)
		if err != nil {
			log.Fatalf("reading bars for %s: %v", sym, err)
		}
		if len(symBars) == 0 {
			log.Fatalf("no bar data for %s; run callisto-fetch first", sym)
		}
		all = append(all, symBars...)
	}
	table := market.New(all)

	engine := backtest.New(table, strategy)
	result, err := engine.Run(cfg.Backtest.Capital, start, end)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	summary := stats.Compute(result, stats.PeriodsPerYearDaily)
	printSummary(cfg.Backtest.Strategy, summary)

	if *noSave {
		return
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()

	rec := store.NewRunRecord(cfg.Backtest.Strategy, cfg.Backtest.Capital, result, summary)
	id, err := runs.SaveRun(ctx, rec)
	if err != nil {
		log.Fatalf("saving run: %v", err)
	}
	logger.Info("run saved", "id", id)
}

func printSummary(strategy string, s stats.Summary) {
	fmt.Printf("strategy:      %s\n", strategy)
	fmt.Printf("start value:   %.2f\n", s.StartValue)
	fmt.Printf("final value:   %.2f\n", s.FinalValue)
	fmt.Printf("total return:  %.2f%%\n", s.TotalReturn*100)
	fmt.Printf("max drawdown:  %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("sharpe ratio:  %.2f\n", s.SharpeRatio)
	fmt.Printf("trades:        %d\n", s.TotalTrades)
}

func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}
