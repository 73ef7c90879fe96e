// Package market provides the market data table consumed by the backtest
// engine: an ordered collection of bars indexed by (timestamp, symbol) with
// constant-time row and price lookups.
package market

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"callisto/internal/domain"
)

// ErrMissingData is returned when a required (timestamp, symbol) price is
// absent from the table.
var ErrMissingData = errors.New("market: missing data")

// Table is an immutable, ordered-by-timestamp collection of bars keyed by
// (timestamp, symbol). The timestamp axis and the per-timestamp row sets are
// indexed once at construction, not re-derived per query.
//
// The table does not verify gap-freeness: callers running a backtest must
// supply contiguous coverage over the requested range, with at least one
// timestamp preceding the requested start.
type Table struct {
	timestamps []time.Time
	rows       map[int64]map[string]domain.Bar // UnixNano → symbol → bar
}

// New builds a Table from a slice of bars. Bars may arrive in any order.
// Duplicate (timestamp, symbol) entries resolve to the last bar seen,
// matching the merge convention of the parquet store.
func New(bars []domain.Bar) *Table {
	rows := make(map[int64]map[string]domain.Bar)
	for _, b := range bars {
		key := b.Timestamp.UnixNano()
		bySymbol, ok := rows[key]
		if !ok {
			bySymbol = make(map[string]domain.Bar)
			rows[key] = bySymbol
		}
		bySymbol[b.Symbol] = b
	}

	timestamps := make([]time.Time, 0, len(rows))
	for key := range rows {
		timestamps = append(timestamps, time.Unix(0, key).UTC())
	}
	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i].Before(timestamps[j])
	})

	return &Table{timestamps: timestamps, rows: rows}
}

// Len returns the number of distinct timestamps in the table.
func (t *Table) Len() int {
	return len(t.timestamps)
}

// Timestamps returns the distinct timestamps present in the table, ascending.
// The returned slice is shared; callers must not modify it.
func (t *Table) Timestamps() []time.Time {
	return t.timestamps
}

// Symbols returns the sorted set of symbols appearing anywhere in the table.
func (t *Table) Symbols() []string {
	seen := make(map[string]struct{})
	for _, bySymbol := range t.rows {
		for sym := range bySymbol {
			seen[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// RowsAt returns all bars for the given timestamp, one per symbol, or nil if
// the timestamp has no rows. The returned map is shared; callers must not
// modify it.
func (t *Table) RowsAt(ts time.Time) map[string]domain.Bar {
	return t.rows[ts.UnixNano()]
}

// OpenPrice returns the open price of symbol at ts. It fails with
// ErrMissingData if the symbol has no row at that timestamp.
func (t *Table) OpenPrice(ts time.Time, symbol string) (float64, error) {
	bar, err := t.bar(ts, symbol)
	if err != nil {
		return 0, err
	}
	return bar.Open, nil
}

// ClosePrice returns the close price of symbol at ts. It fails with
// ErrMissingData if the symbol has no row at that timestamp.
func (t *Table) ClosePrice(ts time.Time, symbol string) (float64, error) {
	bar, err := t.bar(ts, symbol)
	if err != nil {
		return 0, err
	}
	return bar.Close, nil
}

func (t *Table) bar(ts time.Time, symbol string) (domain.Bar, error) {
	bySymbol := t.rows[ts.UnixNano()]
	if bySymbol == nil {
		return domain.Bar{}, fmt.Errorf("no rows at %s: %w", ts.Format(time.RFC3339), ErrMissingData)
	}
	bar, ok := bySymbol[symbol]
	if !ok {
		return domain.Bar{}, fmt.Errorf("no row for %s at %s: %w", symbol, ts.Format(time.RFC3339), ErrMissingData)
	}
	return bar, nil
}

// Range returns the table timestamps within [start, end], ascending. The
// result is empty when no timestamp falls inside the interval.
func (t *Table) Range(start, end time.Time) []time.Time {
	lo := sort.Search(len(t.timestamps), func(i int) bool {
		return !t.timestamps[i].Before(start)
	})
	hi := sort.Search(len(t.timestamps), func(i int) bool {
		return t.timestamps[i].After(end)
	})
	if lo >= hi {
		return nil
	}
	return t.timestamps[lo:hi]
}

// Before returns the table timestamp immediately preceding ts (strictly
// earlier on the full axis), and whether one exists.
func (t *Table) Before(ts time.Time) (time.Time, bool) {
	i := sort.Search(len(t.timestamps), func(i int) bool {
		return !t.timestamps[i].Before(ts)
	})
	if i == 0 {
		return time.Time{}, false
	}
	return t.timestamps[i-1], true
}
