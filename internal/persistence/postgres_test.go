package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daasalpha/alphahunter/internal/backtest"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func sampleRun() Run {
	return Run{
		ID:          "run-1",
		StartedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		FromDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:      time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
		Params:      json.RawMessage(`{"holding_days":5}`),
		Success:     true,
		TotalReturn: 12.5,
		MaxDrawdown: 4.2,
		WinRate:     60,
		TotalTrades: 20,
	}
}

func TestSaveRunUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	run := sampleRun()

	mock.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(run.ID, run.StartedAt, run.FromDate, run.ToDate, []byte(run.Params),
			run.Success, run.Error, run.TotalReturn, run.MaxDrawdown, run.WinRate, run.TotalTrades).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTradesCommitsTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	trades := []backtest.Trade{
		{AssetID: "AAA", Shares: 2495, ReturnPct: 4.8, ExitReason: backtest.HoldingPeriod},
		{AssetID: "BBB", Shares: 100, ReturnPct: -8.2, ExitReason: backtest.StopLoss},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_trades").
		WithArgs("run-1", "AAA", trades[0].EntryDate, trades[0].ExitDate,
			trades[0].EntryPrice, trades[0].ExitPrice, trades[0].Shares,
			trades[0].ReturnPct, "holding_period", trades[0].RealizedGain).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO backtest_trades").
		WithArgs("run-1", "BBB", trades[1].EntryDate, trades[1].ExitDate,
			trades[1].EntryPrice, trades[1].ExitPrice, trades[1].Shares,
			trades[1].ReturnPct, "stop_loss", trades[1].RealizedGain).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveTrades(context.Background(), "run-1", trades))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTradesEmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.SaveTrades(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEquityCurve(t *testing.T) {
	store, mock := newMockStore(t)
	curve := []backtest.EquityPoint{
		{TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Equity: 1_000_000, Cash: 1_000_000},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_equity").
		WithArgs("run-1", curve[0].TradeDate, curve[0].Equity, curve[0].Cash,
			curve[0].PositionsValue, curve[0].OpenPositions).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveEquityCurve(context.Background(), "run-1", curve))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := sampleRun()

	cols := []string{"id", "started_at", "from_date", "to_date", "params", "success",
		"error", "total_return", "max_drawdown", "win_rate", "total_trades"}
	mock.ExpectQuery("FROM backtest_runs WHERE id").
		WithArgs(run.ID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			run.ID, run.StartedAt, run.FromDate, run.ToDate, []byte(run.Params),
			run.Success, run.Error, run.TotalReturn, run.MaxDrawdown, run.WinRate, run.TotalTrades))

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run, *got)
}

func TestGetRunMissingReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM backtest_runs WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRuns(t *testing.T) {
	store, mock := newMockStore(t)
	run := sampleRun()

	cols := []string{"id", "started_at", "from_date", "to_date", "params", "success",
		"error", "total_return", "max_drawdown", "win_rate", "total_trades"}
	mock.ExpectQuery("FROM backtest_runs ORDER BY started_at DESC").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			run.ID, run.StartedAt, run.FromDate, run.ToDate, []byte(run.Params),
			run.Success, run.Error, run.TotalReturn, run.MaxDrawdown, run.WinRate, run.TotalTrades))

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}
