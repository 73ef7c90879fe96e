package backtest

import "time"

// TradeRecord is one immutable trade-log entry. Timestamp is the execution
// timestamp (the open the trade filled at), not the decision bar.
type TradeRecord struct {
	Timestamp time.Time
	Symbol    string
	Quantity  float64
}

// Result holds the assembled output of one backtest run. All per-timestamp
// slices are parallel to Timestamps, which contains the seed timestamp
// followed by every decision-window timestamp — exactly one row per output
// timestamp, even on steps with no trades.
type Result struct {
	// Timestamps is the output axis, ascending: the seed timestamp plus one
	// entry per decision-window timestamp (N+1 rows for a window of size N).
	Timestamps []time.Time

	// Symbols is the sorted set of every symbol ever traded during the run;
	// these are the position-history columns.
	Symbols []string

	// Positions holds one row per timestamp mapping every Symbols entry to
	// the quantity held as of that timestamp, zero-filled for symbols not
	// yet touched.
	Positions []map[string]float64

	// Cash holds the cash balance as of each timestamp.
	Cash []float64

	// PortfolioValue holds, per timestamp, cash plus the mark-to-market
	// close value of all positions.
	PortfolioValue []float64

	// Trades is the trade log in call order, grouped implicitly by
	// execution timestamp.
	Trades []TradeRecord

	index map[int64]int
}

func (r *Result) rowIndex(ts time.Time) (int, bool) {
	i, ok := r.index[ts.UnixNano()]
	return i, ok
}

// PositionAt returns the quantity of symbol held at ts. The second return
// value is false when ts is not an output timestamp.
func (r *Result) PositionAt(ts time.Time, symbol string) (float64, bool) {
	i, ok := r.rowIndex(ts)
	if !ok {
		return 0, false
	}
	return r.Positions[i][symbol], true
}

// CashAt returns the cash balance at ts. The second return value is false
// when ts is not an output timestamp.
func (r *Result) CashAt(ts time.Time) (float64, bool) {
	i, ok := r.rowIndex(ts)
	if !ok {
		return 0, false
	}
	return r.Cash[i], true
}

// ValueAt returns the portfolio value at ts. The second return value is
// false when ts is not an output timestamp.
func (r *Result) ValueAt(ts time.Time) (float64, bool) {
	i, ok := r.rowIndex(ts)
	if !ok {
		return 0, false
	}
	return r.PortfolioValue[i], true
}

// StartValue returns the portfolio value at the seed timestamp, i.e. the
// starting capital.
func (r *Result) StartValue() float64 {
	if len(r.PortfolioValue) == 0 {
		return 0
	}
	return r.PortfolioValue[0]
}

// FinalValue returns the portfolio value at the last output timestamp.
func (r *Result) FinalValue() float64 {
	if len(r.PortfolioValue) == 0 {
		return 0
	}
	return r.PortfolioValue[len(r.PortfolioValue)-1]
}
