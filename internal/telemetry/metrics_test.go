package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSumsLabelSets(t *testing.T) {
	m := New()
	m.RunsTotal.WithLabelValues("success").Inc()
	m.RunsTotal.WithLabelValues("success").Inc()
	m.RunsTotal.WithLabelValues("failure").Inc()
	m.TradesTotal.Add(12)
	m.ActiveRuns.Set(2)
	m.RunDuration.Observe(0.5)

	snap := m.Snapshot()
	assert.Equal(t, 3.0, snap["alphahunter_backtest_runs_total"])
	assert.Equal(t, 12.0, snap["alphahunter_backtest_trades_total"])
	assert.Equal(t, 2.0, snap["alphahunter_backtest_active_runs"])
	assert.Equal(t, 1.0, snap["alphahunter_backtest_run_duration_seconds"], "histogram reports sample count")
}

func TestPrivateRegistriesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.FetchErrors.Inc()

	assert.Equal(t, 1.0, a.Snapshot()["alphahunter_provider_fetch_errors_total"])
	assert.Equal(t, 0.0, b.Snapshot()["alphahunter_provider_fetch_errors_total"])
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.TradesTotal.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "alphahunter_backtest_trades_total 1")
}
