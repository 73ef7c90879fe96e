// Package builtins provides built-in strategy implementations that ship with
// callisto.
package builtins

import (
	"fmt"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/domain"
)

// Compile-time interface check.
var _ backtest.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy on one
// symbol's closes. It opens a position when the short-period SMA crosses
// above the long-period SMA and closes it when the short crosses back below.
type SMACross struct {
	backtest.NopStrategy

	symbol      string
	shortPeriod int
	longPeriod  int
	allocation  float64 // fraction of cash committed per entry

	closes []float64
}

// NewSMACross creates an SMACross for symbol with the given short and long
// moving-average periods. allocation is the fraction of current cash spent
// on each entry; values outside (0, 1] fall back to 1.
func NewSMACross(symbol string, short, long int, allocation float64) *SMACross {
	if allocation <= 0 || allocation > 1 {
		allocation = 1
	}
	return &SMACross{
		symbol:      symbol,
		shortPeriod: short,
		longPeriod:  long,
		allocation:  allocation,
	}
}

// OnBar appends the bar's close and trades on SMA crossovers. Fractional
// quantities are used, so the full allocation is always deployable.
func (s *SMACross) OnBar(e *backtest.Engine, bars map[string]domain.Bar, _ time.Time) error {
	bar, ok := bars[s.symbol]
	if !ok {
		return nil
	}
	s.closes = append(s.closes, bar.Close)

	// Need one extra close so the crossover compares against the previous
	// bar's averages.
	if len(s.closes) < s.longPeriod+1 {
		return nil
	}

	shortNow := sma(s.closes, s.shortPeriod, 0)
	longNow := sma(s.closes, s.longPeriod, 0)
	shortPrev := sma(s.closes, s.shortPeriod, 1)
	longPrev := sma(s.closes, s.longPeriod, 1)

	held := e.Position(s.symbol)

	switch {
	case shortPrev <= longPrev && shortNow > longNow && held == 0:
		price, ok := e.CurrentPrice(s.symbol)
		if !ok {
			return fmt.Errorf("sma-cross: no tradable quote for %s: %w", s.symbol, backtest.ErrMissingPrice)
		}
		qty := e.Cash() * s.allocation / price
		return e.Trade(s.symbol, qty)

	case shortPrev >= longPrev && shortNow < longNow && held > 0:
		return e.Trade(s.symbol, -held)
	}
	return nil
}

// sma computes the mean of the last n closes, shifted back by offset bars.
func sma(closes []float64, n, offset int) float64 {
	end := len(closes) - offset
	sum := 0.0
	for _, c := range closes[end-n : end] {
		sum += c
	}
	return sum / float64(n)
}
