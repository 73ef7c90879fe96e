// Package store defines storage interfaces for market data feeding the
// backtester and for persisting completed run results.
package store

import (
	"context"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/domain"
	"callisto/internal/stats"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in storage.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunStore persists and retrieves completed backtest runs.
type RunStore interface {
	// SaveRun inserts a run with its full history and returns the run ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// GetRun retrieves a run's summary fields by ID.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// GetEquity returns the cash and portfolio-value curve of a run, ascending.
	GetEquity(ctx context.Context, id int64) ([]EquityPoint, error)

	// GetTrades returns the trade log of a run in execution order.
	GetTrades(ctx context.Context, id int64) ([]TradeRow, error)
}

// RunRecord is one persisted backtest run: summary metrics plus, when
// populated, the full history tables.
type RunRecord struct {
	ID          int64     `json:"id"`
	Strategy    string    `json:"strategy"`
	Capital     float64   `json:"capital"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	FinalValue  float64   `json:"final_value"`
	TotalReturn float64   `json:"total_return"`
	MaxDrawdown float64   `json:"max_drawdown"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	TotalTrades int       `json:"total_trades"`
	CreatedAt   time.Time `json:"created_at"`

	// History tables. Populated on SaveRun input; GetRun and ListRuns
	// return only the summary fields above.
	Equity    []EquityPoint `json:"-"`
	Trades    []TradeRow    `json:"-"`
	Positions []PositionRow `json:"-"`
}

// EquityPoint is one row of a run's cash and portfolio-value history.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Cash      float64   `json:"cash"`
	Value     float64   `json:"value"`
}

// TradeRow is one persisted trade-log entry.
type TradeRow struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
}

// PositionRow is one persisted (timestamp, symbol, quantity) cell of a run's
// position history.
type PositionRow struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
}

// NewRunRecord flattens an engine result and its summary metrics into a
// RunRecord ready for SaveRun.
func NewRunRecord(strategy string, capital float64, res *backtest.Result, sum stats.Summary) *RunRecord {
	rec := &RunRecord{
		Strategy:    strategy,
		Capital:     capital,
		FinalValue:  sum.FinalValue,
		TotalReturn: sum.TotalReturn,
		MaxDrawdown: sum.MaxDrawdown,
		SharpeRatio: sum.SharpeRatio,
		TotalTrades: sum.TotalTrades,
		CreatedAt:   time.Now().UTC(),
	}
	if len(res.Timestamps) > 0 {
		rec.Start = res.Timestamps[0]
		rec.End = res.Timestamps[len(res.Timestamps)-1]
	}

	for i, ts := range res.Timestamps {
		rec.Equity = append(rec.Equity, EquityPoint{
			Timestamp: ts,
			Cash:      res.Cash[i],
			Value:     res.PortfolioValue[i],
		})
		for _, sym := range res.Symbols {
			rec.Positions = append(rec.Positions, PositionRow{
				Timestamp: ts,
				Symbol:    sym,
				Quantity:  res.Positions[i][sym],
			})
		}
	}
	for _, tr := range res.Trades {
		rec.Trades = append(rec.Trades, TradeRow{
			Timestamp: tr.Timestamp,
			Symbol:    tr.Symbol,
			Quantity:  tr.Quantity,
		})
	}
	return rec
}
