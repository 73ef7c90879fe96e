// Package domain defines the core data types shared across the callisto
// backtesting system.
package domain

import "time"

// Bar is one OHLCV price record for one symbol at one timestamp. Bars are
// owned by the market data table and treated as immutable once loaded.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64

	// Extra carries strategy-defined feature columns (precomputed
	// indicators, sentiment scores, ...) alongside the required OHLC
	// fields. Nil when the data source supplies none.
	Extra map[string]float64
}
