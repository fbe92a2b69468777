package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/daasalpha/alphahunter/internal/backtest"
)

// Schema is the DDL for the result tables. Applied idempotently on connect.
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id           TEXT PRIMARY KEY,
	started_at   TIMESTAMPTZ NOT NULL,
	from_date    DATE NOT NULL,
	to_date      DATE NOT NULL,
	params       JSONB NOT NULL,
	success      BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	total_return DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
	win_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_trades INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id        TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	asset_id      TEXT NOT NULL,
	entry_date    DATE NOT NULL,
	exit_date     DATE NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	exit_price    DOUBLE PRECISION NOT NULL,
	shares        BIGINT NOT NULL,
	return_pct    DOUBLE PRECISION NOT NULL,
	exit_reason   TEXT NOT NULL,
	realized_gain DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_equity (
	run_id          TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	trade_date      DATE NOT NULL,
	equity          DOUBLE PRECISION NOT NULL,
	cash            DOUBLE PRECISION NOT NULL,
	positions_value DOUBLE PRECISION NOT NULL,
	open_positions  INTEGER NOT NULL,
	PRIMARY KEY (run_id, trade_date)
);
`

// PostgresStore implements Store on sqlx/Postgres.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (used in tests).
func NewPostgresStoreFromDB(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

// SaveRun upserts the run summary row.
func (s *PostgresStore) SaveRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(id, started_at, from_date, to_date, params, success, error,
		 total_return, max_drawdown, win_rate, total_trades)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			success = EXCLUDED.success,
			error = EXCLUDED.error,
			total_return = EXCLUDED.total_return,
			max_drawdown = EXCLUDED.max_drawdown,
			win_rate = EXCLUDED.win_rate,
			total_trades = EXCLUDED.total_trades`,
		run.ID, run.StartedAt, run.FromDate, run.ToDate, run.Params, run.Success,
		run.Error, run.TotalReturn, run.MaxDrawdown, run.WinRate, run.TotalTrades)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveTrades bulk-inserts the trade log for a run inside one transaction.
func (s *PostgresStore) SaveTrades(ctx context.Context, runID string, trades []backtest.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trades tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_trades
			(run_id, asset_id, entry_date, exit_date, entry_price, exit_price,
			 shares, return_pct, exit_reason, realized_gain)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, t.AssetID, t.EntryDate, t.ExitDate, t.EntryPrice, t.ExitPrice,
			t.Shares, t.ReturnPct, t.ExitReason.String(), t.RealizedGain); err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.AssetID, err)
		}
	}
	return tx.Commit()
}

// SaveEquityCurve bulk-inserts the daily equity points for a run.
func (s *PostgresStore) SaveEquityCurve(ctx context.Context, runID string, curve []backtest.EquityPoint) error {
	if len(curve) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin equity tx: %w", err)
	}
	defer tx.Rollback()

	for _, pt := range curve {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_equity
			(run_id, trade_date, equity, cash, positions_value, open_positions)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id, trade_date) DO NOTHING`,
			runID, pt.TradeDate, pt.Equity, pt.Cash, pt.PositionsValue, pt.OpenPositions); err != nil {
			return fmt.Errorf("failed to insert equity point: %w", err)
		}
	}
	return tx.Commit()
}

// GetRun loads one run summary, nil when absent.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var run Run
	err := s.db.GetContext(ctx, &run, `
		SELECT id, started_at, from_date, to_date, params, success, error,
		       total_return, max_drawdown, win_rate, total_trades
		FROM backtest_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	runs := []Run{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, from_date, to_date, params, success, error,
		       total_return, max_drawdown, win_rate, total_trades
		FROM backtest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
