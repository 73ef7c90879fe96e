package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy      TEXT    NOT NULL,
	capital       REAL    NOT NULL,
	start_ts      INTEGER NOT NULL,
	end_ts        INTEGER NOT NULL,
	final_value   REAL    NOT NULL,
	total_return  REAL    NOT NULL,
	max_drawdown  REAL    NOT NULL,
	sharpe_ratio  REAL    NOT NULL,
	total_trades  INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_equity (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	ts     INTEGER NOT NULL,
	cash   REAL    NOT NULL,
	value  REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_equity_run ON run_equity(run_id, ts);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id   INTEGER NOT NULL REFERENCES runs(id),
	seq      INTEGER NOT NULL,
	ts       INTEGER NOT NULL,
	symbol   TEXT    NOT NULL,
	quantity REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run_id, seq);

CREATE TABLE IF NOT EXISTS run_positions (
	run_id   INTEGER NOT NULL REFERENCES runs(id),
	ts       INTEGER NOT NULL,
	symbol   TEXT    NOT NULL,
	quantity REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_positions_run ON run_positions(run_id, ts);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts the run summary and its equity, trade, and position history
// in a single transaction, returning the new run ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (strategy, capital, start_ts, end_ts, final_value,
			total_return, max_drawdown, sharpe_ratio, total_trades, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Strategy, run.Capital,
		run.Start.UnixMilli(), run.End.UnixMilli(),
		run.FinalValue, run.TotalReturn, run.MaxDrawdown, run.SharpeRatio,
		run.TotalTrades, run.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, p := range run.Equity {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_equity (run_id, ts, cash, value) VALUES (?, ?, ?, ?)`,
			id, p.Timestamp.UnixMilli(), p.Cash, p.Value); err != nil {
			return 0, fmt.Errorf("inserting equity row: %w", err)
		}
	}
	for seq, t := range run.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_trades (run_id, seq, ts, symbol, quantity) VALUES (?, ?, ?, ?, ?)`,
			id, seq, t.Timestamp.UnixMilli(), t.Symbol, t.Quantity); err != nil {
			return 0, fmt.Errorf("inserting trade row: %w", err)
		}
	}
	for _, p := range run.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_positions (run_id, ts, symbol, quantity) VALUES (?, ?, ?, ?)`,
			id, p.Timestamp.UnixMilli(), p.Symbol, p.Quantity); err != nil {
			return 0, fmt.Errorf("inserting position row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// GetRun retrieves a run's summary fields by ID. Returns sql.ErrNoRows if no
// run has the given ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, capital, start_ts, end_ts, final_value,
			total_return, max_drawdown, sharpe_ratio, total_trades, created_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first, up to limit. A limit
// of zero or less returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded.
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, capital, start_ts, end_ts, final_value,
			total_return, max_drawdown, sharpe_ratio, total_trades, created_at
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetEquity returns the cash and portfolio-value curve of a run, ascending
// by timestamp.
func (s *SQLiteStore) GetEquity(ctx context.Context, id int64) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, cash, value FROM run_equity WHERE run_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var ts int64
		var p EquityPoint
		if err := rows.Scan(&ts, &p.Cash, &p.Value); err != nil {
			return nil, err
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetTrades returns the trade log of a run in execution order.
func (s *SQLiteStore) GetTrades(ctx context.Context, id int64) ([]TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, symbol, quantity FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var ts int64
		var t TradeRow
		if err := rows.Scan(&ts, &t.Symbol, &t.Quantity); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var r RunRecord
	var start, end, created int64
	if err := sc.Scan(&r.ID, &r.Strategy, &r.Capital, &start, &end,
		&r.FinalValue, &r.TotalReturn, &r.MaxDrawdown, &r.SharpeRatio,
		&r.TotalTrades, &created); err != nil {
		return nil, err
	}
	r.Start = time.UnixMilli(start).UTC()
	r.End = time.UnixMilli(end).UTC()
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}
