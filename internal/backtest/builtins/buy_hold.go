package builtins

import (
	"fmt"

	"callisto/internal/backtest"
)

// Compile-time interface check.
var _ backtest.Strategy = (*BuyAndHold)(nil)

// BuyAndHold splits the starting capital equally across a fixed set of
// symbols at the first tradable open and never trades again.
type BuyAndHold struct {
	backtest.NopStrategy

	symbols []string
}

// NewBuyAndHold creates a BuyAndHold over the given symbols.
func NewBuyAndHold(symbols []string) *BuyAndHold {
	return &BuyAndHold{symbols: symbols}
}

// OnInit opens all positions at the first window timestamp's open prices.
func (s *BuyAndHold) OnInit(e *backtest.Engine) error {
	if len(s.symbols) == 0 {
		return nil
	}
	budget := e.Cash() / float64(len(s.symbols))
	for _, sym := range s.symbols {
		price, ok := e.CurrentPrice(sym)
		if !ok {
			return fmt.Errorf("buy-hold: no tradable quote for %s: %w", sym, backtest.ErrMissingPrice)
		}
		if err := e.Trade(sym, budget/price); err != nil {
			return err
		}
	}
	return nil
}
