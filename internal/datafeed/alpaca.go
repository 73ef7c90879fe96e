package datafeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"callisto/internal/domain"
	"callisto/internal/store"
	"callisto/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*DailyBarFetcher)(nil)

// barGetter is the slice of the Alpaca market-data client the fetcher uses.
type barGetter interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyBarFetcher fetches daily OHLCV bars for a fixed symbol list via the
// Alpaca market-data API and writes them to the bar store.
type DailyBarFetcher struct {
	client    barGetter
	store     store.BarStore
	symbols   []string
	batchSize int // symbols per API call
	limiter   *util.RateLimiter
	startDate string
	log       *slog.Logger
}

// NewDailyBarFetcher creates a DailyBarFetcher configured with the given
// Alpaca credentials, target store, symbol list, and batch parameters.
func NewDailyBarFetcher(apiKey, apiSecret, dataURL string, s store.BarStore, symbols []string, batchSize, rateLimitPerMin int, startDate string) *DailyBarFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &DailyBarFetcher{
		client:    marketdata.NewClient(opts),
		store:     s,
		symbols:   symbols,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		startDate: startDate,
		log:       slog.Default().With("fetcher", "daily-bars"),
	}
}

// Name returns the fetcher identifier.
func (f *DailyBarFetcher) Name() string { return "daily-bars" }

// Run fetches daily bars for the configured symbols from startDate through
// the last finished trading day and writes them to the store. Re-running is
// idempotent: bars already on disk are overwritten in place.
func (f *DailyBarFetcher) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	start, err := time.Parse("2006-01-02", f.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", f.startDate, err)
	}
	end := util.PrevTradingDay(time.Now().UTC().Truncate(24 * time.Hour))

	totalBatches := (len(f.symbols) + f.batchSize - 1) / f.batchSize
	f.log.Info("starting fetch",
		"symbols", len(f.symbols),
		"batches", totalBatches,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	runStart := time.Now()
	var totalBars int
	for i := 0; i < len(f.symbols); i += f.batchSize {
		batch := f.symbols[i:min(i+f.batchSize, len(f.symbols))]

		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var ferr error
			bars, ferr = f.fetchMultiBars(ctx, batch, start, end)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetching batch %d/%d: %w", i/f.batchSize+1, totalBatches, err)
		}

		if err := f.store.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("writing batch %d/%d: %w", i/f.batchSize+1, totalBatches, err)
		}

		totalBars += len(bars)
		f.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i/f.batchSize+1, totalBatches),
			"bars", len(bars),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	f.log.Info("fetch complete",
		"bars", totalBars,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (f *DailyBarFetcher) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
