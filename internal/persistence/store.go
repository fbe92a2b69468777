// Package persistence stores backtest runs, trade logs and equity curves in
// Postgres. Persistence is optional: with no DSN configured the service
// simply skips it.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/daasalpha/alphahunter/internal/backtest"
)

// Run is one persisted backtest invocation with its parameters and summary.
type Run struct {
	ID          string          `json:"id" db:"id"`
	StartedAt   time.Time       `json:"started_at" db:"started_at"`
	FromDate    time.Time       `json:"from_date" db:"from_date"`
	ToDate      time.Time       `json:"to_date" db:"to_date"`
	Params      json.RawMessage `json:"params" db:"params"`
	Success     bool            `json:"success" db:"success"`
	Error       string          `json:"error" db:"error"`
	TotalReturn float64         `json:"total_return" db:"total_return"`
	MaxDrawdown float64         `json:"max_drawdown" db:"max_drawdown"`
	WinRate     float64         `json:"win_rate" db:"win_rate"`
	TotalTrades int             `json:"total_trades" db:"total_trades"`
}

// Store persists run results.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	SaveTrades(ctx context.Context, runID string, trades []backtest.Trade) error
	SaveEquityCurve(ctx context.Context, runID string, curve []backtest.EquityPoint) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
