package backtest

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"callisto/internal/domain"
	"callisto/internal/market"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	t3 = time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
)

// singleSymbolTable builds the reference dataset: timestamps t0..t3, one
// symbol "X", open and close both [10, 11, 12, 13].
func singleSymbolTable(t *testing.T) *market.Table {
	t.Helper()

	prices := []float64{10, 11, 12, 13}
	stamps := []time.Time{t0, t1, t2, t3}

	bars := make([]domain.Bar, 0, len(stamps))
	for i, ts := range stamps {
		bars = append(bars, domain.Bar{
			Symbol:    "X",
			Timestamp: ts,
			Open:      prices[i],
			High:      prices[i],
			Low:       prices[i],
			Close:     prices[i],
		})
	}
	return market.New(bars)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunScenario(t *testing.T) {
	// Buy 5 units of X on every decision bar, capital 1000, run t1..t2.
	table := singleSymbolTable(t)
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			return e.Trade("X", 5)
		},
	}
	e := New(table, strat)

	res, err := e.Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Seed row at t0 plus one row per window timestamp.
	wantStamps := []time.Time{t0, t1, t2}
	if len(res.Timestamps) != len(wantStamps) {
		t.Fatalf("got %d output rows, want %d", len(res.Timestamps), len(wantStamps))
	}
	for i, ts := range wantStamps {
		if !res.Timestamps[i].Equal(ts) {
			t.Errorf("Timestamps[%d] = %v, want %v", i, res.Timestamps[i], ts)
		}
	}

	// Seed row: initial cash, empty position.
	if !approx(res.Cash[0], 1000) {
		t.Errorf("seed cash = %v, want 1000", res.Cash[0])
	}
	if qty, _ := res.PositionAt(t0, "X"); qty != 0 {
		t.Errorf("seed position X = %v, want 0", qty)
	}

	// First decision sees t0's bar, fills at t1's open 11: cash 945, X=5.
	if !approx(res.Cash[1], 945) {
		t.Errorf("cash at t1 = %v, want 945", res.Cash[1])
	}
	if qty, _ := res.PositionAt(t1, "X"); !approx(qty, 5) {
		t.Errorf("position X at t1 = %v, want 5", qty)
	}

	// Second decision sees t1's bar, fills at t2's open 12: cash 885, X=10.
	if !approx(res.Cash[2], 885) {
		t.Errorf("cash at t2 = %v, want 885", res.Cash[2])
	}
	if qty, _ := res.PositionAt(t2, "X"); !approx(qty, 10) {
		t.Errorf("position X at t2 = %v, want 10", qty)
	}

	// Portfolio value at t2 = 885 + 10 * 12 (close) = 1005.
	if v, _ := res.ValueAt(t2); !approx(v, 1005) {
		t.Errorf("portfolio value at t2 = %v, want 1005", v)
	}

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(res.Trades))
	}
	if !res.Trades[0].Timestamp.Equal(t1) || !res.Trades[1].Timestamp.Equal(t2) {
		t.Errorf("trade timestamps = %v, %v; want t1, t2", res.Trades[0].Timestamp, res.Trades[1].Timestamp)
	}
}

func TestNoLookAhead(t *testing.T) {
	// The execution price visible during on_bar(T) must be the open of the
	// timestamp after T, never T's own open.
	table := singleSymbolTable(t)

	type step struct {
		decision  time.Time
		fillPrice float64
	}
	var steps []step

	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, ts time.Time) error {
			price, ok := e.CurrentPrice("X")
			if !ok {
				return fmt.Errorf("no current price for X at %v", ts)
			}
			steps = append(steps, step{decision: ts, fillPrice: price})
			return nil
		},
	}

	if _, err := New(table, strat).Run(1000, t1, t2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []step{
		{decision: t0, fillPrice: 11}, // t1's open
		{decision: t1, fillPrice: 12}, // t2's open
	}
	if len(steps) != len(want) {
		t.Fatalf("got %d on_bar calls, want %d", len(steps), len(want))
	}
	for i, w := range want {
		if !steps[i].decision.Equal(w.decision) {
			t.Errorf("step %d decision = %v, want %v", i, steps[i].decision, w.decision)
		}
		if !approx(steps[i].fillPrice, w.fillPrice) {
			t.Errorf("step %d fill price = %v, want %v", i, steps[i].fillPrice, w.fillPrice)
		}
	}
}

func TestOnBarSeesDecisionBarData(t *testing.T) {
	table := singleSymbolTable(t)

	var seen []float64
	strat := Funcs{
		Bar: func(_ *Engine, bars map[string]domain.Bar, _ time.Time) error {
			seen = append(seen, bars["X"].Close)
			return nil
		},
	}

	if _, err := New(table, strat).Run(1000, t1, t2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Decision bars for a t1..t2 window are t0 and t1.
	want := []float64{10, 11}
	if len(seen) != len(want) {
		t.Fatalf("got %d bars, want %d", len(seen), len(want))
	}
	for i := range want {
		if !approx(seen[i], want[i]) {
			t.Errorf("bar %d close = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestHistoryCompleteness(t *testing.T) {
	// A window of size N yields exactly N+1 rows even with zero trades, and
	// cash simply repeats.
	table := singleSymbolTable(t)
	e := New(table, nil)

	res, err := e.Run(500, t1, t3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Timestamps) != 4 { // seed + t1, t2, t3
		t.Fatalf("got %d rows, want 4", len(res.Timestamps))
	}
	for i, c := range res.Cash {
		if !approx(c, 500) {
			t.Errorf("cash row %d = %v, want 500", i, c)
		}
	}
	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
	// With no trades the portfolio value is the starting capital throughout.
	for i, v := range res.PortfolioValue {
		if !approx(v, 500) {
			t.Errorf("value row %d = %v, want 500", i, v)
		}
	}
}

func TestZeroFill(t *testing.T) {
	// A symbol first traded at the second decision must read zero, not be
	// absent, in earlier rows.
	bars := []domain.Bar{
		{Symbol: "X", Timestamp: t0, Open: 10, Close: 10},
		{Symbol: "X", Timestamp: t1, Open: 11, Close: 11},
		{Symbol: "X", Timestamp: t2, Open: 12, Close: 12},
		{Symbol: "Y", Timestamp: t0, Open: 20, Close: 20},
		{Symbol: "Y", Timestamp: t1, Open: 21, Close: 21},
		{Symbol: "Y", Timestamp: t2, Open: 22, Close: 22},
	}
	table := market.New(bars)

	second := false
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			if second {
				return e.Trade("Y", 1)
			}
			second = true
			return e.Trade("X", 1)
		},
	}

	res, err := New(table, strat).Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Symbols) != 2 {
		t.Fatalf("columns = %v, want [X Y]", res.Symbols)
	}
	row := res.Positions[1] // t1: only X traded so far
	if qty, ok := row["Y"]; !ok {
		t.Error("Y column absent at t1, want explicit zero")
	} else if qty != 0 {
		t.Errorf("Y at t1 = %v, want 0", qty)
	}
	if qty := res.Positions[2]["Y"]; !approx(qty, 1) {
		t.Errorf("Y at t2 = %v, want 1", qty)
	}
}

func TestValuationIdentity(t *testing.T) {
	// portfolioValue[T] reconstructs as cash[T] + Σ positions[T,s]·close[T,s].
	table := singleSymbolTable(t)
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			return e.Trade("X", 3)
		},
	}

	res, err := New(table, strat).Run(1000, t1, t3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 1; i < len(res.Timestamps); i++ {
		want := res.Cash[i]
		for _, sym := range res.Symbols {
			closePrice, err := table.ClosePrice(res.Timestamps[i], sym)
			if err != nil {
				t.Fatalf("ClosePrice: %v", err)
			}
			want += res.Positions[i][sym] * closePrice
		}
		if !approx(res.PortfolioValue[i], want) {
			t.Errorf("value row %d = %v, want %v", i, res.PortfolioValue[i], want)
		}
	}
	if !approx(res.PortfolioValue[0], res.Cash[0]) {
		t.Errorf("seed value = %v, want seed cash %v", res.PortfolioValue[0], res.Cash[0])
	}
}

func TestStartEqualsEnd(t *testing.T) {
	table := singleSymbolTable(t)
	res, err := New(table, nil).Run(100, t2, t2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Timestamps) != 2 {
		t.Fatalf("got %d rows, want 2 (seed + one window timestamp)", len(res.Timestamps))
	}
	if !res.Timestamps[0].Equal(t1) || !res.Timestamps[1].Equal(t2) {
		t.Errorf("rows at %v, %v; want t1, t2", res.Timestamps[0], res.Timestamps[1])
	}
}

func TestZeroQuantityTradeLogged(t *testing.T) {
	table := singleSymbolTable(t)
	strat := Funcs{
		Init: func(e *Engine) error {
			return e.Trade("X", 0)
		},
	}

	res, err := New(table, strat).Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 || res.Trades[0].Quantity != 0 {
		t.Fatalf("trades = %+v, want one zero-quantity record", res.Trades)
	}
	if len(res.Symbols) != 1 || res.Symbols[0] != "X" {
		t.Fatalf("columns = %v, want [X]", res.Symbols)
	}
	if qty, ok := res.PositionAt(t2, "X"); !ok || qty != 0 {
		t.Errorf("X at t2 = %v (present=%v), want explicit 0", qty, ok)
	}
	if !approx(res.Cash[len(res.Cash)-1], 1000) {
		t.Errorf("final cash = %v, want 1000 (zero trade moves no cash)", res.Cash[len(res.Cash)-1])
	}
}

func TestInsufficientLookback(t *testing.T) {
	table := singleSymbolTable(t)
	_, err := New(table, nil).Run(1000, t0, t2)
	if !errors.Is(err, ErrInsufficientLookback) {
		t.Fatalf("err = %v, want ErrInsufficientLookback", err)
	}
}

func TestEmptyWindow(t *testing.T) {
	table := singleSymbolTable(t)
	start := t3.AddDate(0, 1, 0)
	_, err := New(table, nil).Run(1000, start, start.AddDate(0, 0, 5))
	if !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("err = %v, want ErrEmptyWindow", err)
	}
}

func TestMissingPricePropagates(t *testing.T) {
	// "Y" has no row at the execution timestamp, so trading it must abort
	// the run with ErrMissingPrice.
	table := singleSymbolTable(t)
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			return e.Trade("Y", 1)
		},
	}

	_, err := New(table, strat).Run(1000, t1, t2)
	if !errors.Is(err, ErrMissingPrice) {
		t.Fatalf("err = %v, want ErrMissingPrice", err)
	}
}

func TestMissingCloseFailsValuation(t *testing.T) {
	// "Y" is tradable at t1 but has no row at t2; the valuation pass over
	// the full column set must surface ErrMissingData.
	bars := []domain.Bar{
		{Symbol: "X", Timestamp: t0, Open: 10, Close: 10},
		{Symbol: "X", Timestamp: t1, Open: 11, Close: 11},
		{Symbol: "X", Timestamp: t2, Open: 12, Close: 12},
		{Symbol: "Y", Timestamp: t1, Open: 20, Close: 20},
	}
	table := market.New(bars)

	first := true
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			if first {
				first = false
				return e.Trade("Y", 1)
			}
			return nil
		},
	}

	_, err := New(table, strat).Run(1000, t1, t2)
	if !errors.Is(err, market.ErrMissingData) {
		t.Fatalf("err = %v, want market.ErrMissingData", err)
	}
}

func TestRunResetsState(t *testing.T) {
	table := singleSymbolTable(t)
	strat := Funcs{
		Bar: func(e *Engine, _ map[string]domain.Bar, _ time.Time) error {
			return e.Trade("X", 5)
		},
	}
	e := New(table, strat)

	first, err := e.Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := e.Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(second.Trades) != len(first.Trades) {
		t.Errorf("second run logged %d trades, want %d (state must not accumulate)",
			len(second.Trades), len(first.Trades))
	}
	for i := range first.Cash {
		if !approx(first.Cash[i], second.Cash[i]) {
			t.Errorf("cash row %d differs between runs: %v vs %v", i, first.Cash[i], second.Cash[i])
		}
	}

	// Engine accessors read zero outside a run.
	if e.Cash() != 0 || e.Position("X") != 0 {
		t.Error("engine state visible outside a run")
	}
}

func TestOnInitTradesAtFirstOpen(t *testing.T) {
	// Positions opened in on_init fill at the first window timestamp's open.
	table := singleSymbolTable(t)
	strat := Funcs{
		Init: func(e *Engine) error {
			return e.Trade("X", 10)
		},
	}

	res, err := New(table, strat).Run(1000, t1, t2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !approx(res.Cash[1], 1000-10*11) {
		t.Errorf("cash at t1 = %v, want %v", res.Cash[1], 1000-10*11)
	}
	if !res.Trades[0].Timestamp.Equal(t1) {
		t.Errorf("on_init trade at %v, want t1", res.Trades[0].Timestamp)
	}
}

func TestStrategyErrorAborts(t *testing.T) {
	table := singleSymbolTable(t)
	boom := errors.New("boom")
	strat := Funcs{
		Bar: func(*Engine, map[string]domain.Bar, time.Time) error {
			return boom
		},
	}

	_, err := New(table, strat).Run(1000, t1, t2)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want strategy error to propagate", err)
	}
}
