package httpapi

import "callisto/internal/store"

// RunsResponse lists persisted runs, newest first.
type RunsResponse struct {
	Runs []store.RunRecord `json:"runs"`
}

// EquityResponse holds a run's cash and portfolio-value curve.
type EquityResponse struct {
	RunID  int64               `json:"run_id"`
	Equity []store.EquityPoint `json:"equity"`
}

// TradesResponse holds a run's trade log in execution order.
type TradesResponse struct {
	RunID  int64            `json:"run_id"`
	Trades []store.TradeRow `json:"trades"`
}

// SymbolsResponse lists symbols with bar data available locally.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}
