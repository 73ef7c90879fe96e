// Package backtest implements the time-stepped simulation engine that
// replays a strategy against historical bar data while tracking cash,
// positions, and portfolio value.
//
// The engine is single-threaded and fully synchronous: each decision step
// completes, including all Trade calls its hooks issue, before the next step
// begins. One Engine supports one Run at a time; concurrent backtests need
// one Engine each.
package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"callisto/internal/market"
)

var (
	// ErrInsufficientLookback indicates the data table has no timestamp
	// before the start of the decision window, so there is no bar to seed
	// the first decision from.
	ErrInsufficientLookback = errors.New("backtest: no data before start of window")

	// ErrMissingPrice indicates Trade was called for a symbol with no open
	// price at the execution timestamp — there is no tradable quote to fill
	// against.
	ErrMissingPrice = errors.New("backtest: no open price at execution time")

	// ErrEmptyWindow indicates the requested [start, end] range contains no
	// data timestamps.
	ErrEmptyWindow = errors.New("backtest: no timestamps in requested window")
)

// Engine owns the simulation loop and the trade-execution primitive. All
// mutable run state lives in a runState created fresh by each Run call, so
// nothing leaks from one run into the next.
type Engine struct {
	table    *market.Table
	strategy Strategy
	log      *slog.Logger

	run *runState // non-nil only while Run is executing
}

// runState is the mutable state of a single run.
type runState struct {
	cash          float64
	positions     map[string]float64
	currentTime   time.Time
	currentPrices map[string]float64 // open prices at currentTime

	snaps  []snapshot
	trades []TradeRecord
}

// snapshot is one recorded (timestamp, cash, positions) row.
type snapshot struct {
	ts        time.Time
	cash      float64
	positions map[string]float64
}

// record appends a snapshot of the current cash and positions at ts.
func (st *runState) record(ts time.Time) {
	positions := make(map[string]float64, len(st.positions))
	for sym, qty := range st.positions {
		positions[sym] = qty
	}
	st.snaps = append(st.snaps, snapshot{ts: ts, cash: st.cash, positions: positions})
}

// New creates an Engine that replays bars from table through strat. A nil
// strategy runs the bare bookkeeping loop with no-op hooks.
func New(table *market.Table, strat Strategy) *Engine {
	if strat == nil {
		strat = NopStrategy{}
	}
	return &Engine{
		table:    table,
		strategy: strat,
		log:      slog.Default().With("component", "backtest"),
	}
}

// Run simulates the strategy over every data timestamp within
// [start, end] with the given starting capital, and returns the assembled
// histories. State is reinitialized on every call; a failed run discards
// everything it accumulated.
//
// The engine does not validate the sign of capital; negative starting
// capital is a caller error.
func (e *Engine) Run(capital float64, start, end time.Time) (*Result, error) {
	window := e.table.Range(start, end)
	if len(window) == 0 {
		return nil, fmt.Errorf("range %s..%s: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), ErrEmptyWindow)
	}

	prior, ok := e.table.Before(window[0])
	if !ok {
		return nil, fmt.Errorf("window starts at first data timestamp %s: %w",
			window[0].Format(time.RFC3339), ErrInsufficientLookback)
	}

	st := &runState{
		cash:      capital,
		positions: make(map[string]float64),
	}
	st.record(prior) // seed row: initial cash, no positions
	e.run = st
	defer func() { e.run = nil }()

	// Decision bars trail the window by one axis step: the strategy decides
	// on bar T's data and its trades fill at the open of the timestamp
	// after T. Repricing happens before the hooks run — that ordering is
	// the look-ahead-avoidance invariant.
	decision := prior
	for i, execTS := range window {
		st.currentTime = execTS
		st.currentPrices = openPricesAt(e.table, execTS)

		if i == 0 {
			if err := e.strategy.OnInit(e); err != nil {
				return nil, fmt.Errorf("on_init: %w", err)
			}
		}
		if err := e.strategy.OnBar(e, e.table.RowsAt(decision), decision); err != nil {
			return nil, fmt.Errorf("on_bar at %s: %w", decision.Format(time.RFC3339), err)
		}

		st.record(execTS)
		decision = execTS
	}

	res, err := e.assemble(st)
	if err != nil {
		return nil, err
	}

	e.log.Info("run complete",
		"start", window[0].Format(time.RFC3339),
		"end", window[len(window)-1].Format(time.RFC3339),
		"bars", len(window),
		"trades", len(res.Trades),
		"finalValue", res.FinalValue(),
	)
	return res, nil
}

// Trade adjusts the position in symbol by qty at the current execution
// price: positions[symbol] += qty, cash -= qty * open(currentTime, symbol),
// and the trade is appended to the log. Negative quantities sell or short.
//
// A zero quantity is a legal no-op on cash: it is still logged and forces
// the symbol into the position-history columns with quantity zero.
//
// Trade fails with ErrMissingPrice when the symbol has no open price at the
// execution timestamp; strategies should return that error from their hook
// so it aborts the run.
func (e *Engine) Trade(symbol string, qty float64) error {
	st := e.run
	if st == nil {
		return errors.New("backtest: Trade called outside a run")
	}
	price, ok := st.currentPrices[symbol]
	if !ok {
		return fmt.Errorf("%s at %s: %w", symbol, st.currentTime.Format(time.RFC3339), ErrMissingPrice)
	}

	st.positions[symbol] += qty
	st.cash -= qty * price
	st.trades = append(st.trades, TradeRecord{
		Timestamp: st.currentTime,
		Symbol:    symbol,
		Quantity:  qty,
	})
	return nil
}

// Cash returns the current cash balance. Zero outside a run.
func (e *Engine) Cash() float64 {
	if e.run == nil {
		return 0
	}
	return e.run.cash
}

// Position returns the signed quantity currently held in symbol. A symbol
// never traded reads as zero.
func (e *Engine) Position(symbol string) float64 {
	if e.run == nil {
		return 0
	}
	return e.run.positions[symbol]
}

// CurrentTime returns the execution timestamp trades would fill at right
// now.
func (e *Engine) CurrentTime() time.Time {
	if e.run == nil {
		return time.Time{}
	}
	return e.run.currentTime
}

// CurrentPrice returns the open price symbol would trade at right now, and
// whether such a price exists.
func (e *Engine) CurrentPrice(symbol string) (float64, bool) {
	if e.run == nil {
		return 0, false
	}
	price, ok := e.run.currentPrices[symbol]
	return price, ok
}

// assemble materializes the immutable output tables from the accumulated
// snapshots: the column set is fixed to the union of traded symbols first,
// then every row is zero-filled against it. Valuation runs as a separate
// pass so a missing close price surfaces as a terminal ErrMissingData for
// the whole run rather than a partial result.
func (e *Engine) assemble(st *runState) (*Result, error) {
	columns := make(map[string]struct{})
	for _, snap := range st.snaps {
		for sym := range snap.positions {
			columns[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(columns))
	for sym := range columns {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	n := len(st.snaps)
	res := &Result{
		Timestamps:     make([]time.Time, n),
		Symbols:        symbols,
		Positions:      make([]map[string]float64, n),
		Cash:           make([]float64, n),
		PortfolioValue: make([]float64, n),
		Trades:         st.trades,
		index:          make(map[int64]int, n),
	}

	for i, snap := range st.snaps {
		res.Timestamps[i] = snap.ts
		res.Cash[i] = snap.cash
		res.index[snap.ts.UnixNano()] = i

		row := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			row[sym] = snap.positions[sym] // zero-fill via map default
		}
		res.Positions[i] = row
	}

	// The seed row predates the window; its positions are all zero, so its
	// value is the cash balance alone and needs no close prices.
	res.PortfolioValue[0] = res.Cash[0]
	for i := 1; i < n; i++ {
		value := res.Cash[i]
		for _, sym := range symbols {
			closePrice, err := e.table.ClosePrice(res.Timestamps[i], sym)
			if err != nil {
				return nil, fmt.Errorf("valuation: %w", err)
			}
			value += res.Positions[i][sym] * closePrice
		}
		res.PortfolioValue[i] = value
	}

	return res, nil
}

// openPricesAt collects the open price of every symbol with a row at ts.
func openPricesAt(t *market.Table, ts time.Time) map[string]float64 {
	rows := t.RowsAt(ts)
	prices := make(map[string]float64, len(rows))
	for sym, bar := range rows {
		prices[sym] = bar.Open
	}
	return prices
}
