package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ALPHAHUNTER_DB_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PROVIDER_TOKEN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.Backtest.HoldingDays)
	assert.Equal(t, "000300.SH", cfg.Benchmark)
	assert.Equal(t, ":8087", cfg.Server.Addr)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
benchmark: "000905.SH"
backtest:
  holding_days: 10
  max_positions: 8
provider:
  timeout: 30s
regime:
  confirm_days: 5
scheduler:
  jobs:
    - name: nightly
      type: screen
      interval: 24h
      enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "000905.SH", cfg.Benchmark)
	assert.Equal(t, 10, cfg.Backtest.HoldingDays)
	assert.Equal(t, 8, cfg.Backtest.MaxPositions)
	assert.Equal(t, Duration(30*time.Second), cfg.Provider.Timeout)
	assert.Equal(t, 5, cfg.Regime.ConfirmDays)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.08, cfg.Backtest.StopLossPct)
	assert.Equal(t, 60, cfg.Factors.RPSWindow)

	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, "nightly", cfg.Scheduler.Jobs[0].Name)
	assert.Equal(t, Duration(24*time.Hour), cfg.Scheduler.Jobs[0].Interval)
	assert.True(t, cfg.Scheduler.Jobs[0].Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ALPHAHUNTER_DB_DSN", "postgres://test/db")
	t.Setenv("REDIS_ADDR", "redis-test:6379")
	t.Setenv("PROVIDER_TOKEN", "secret-token")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://test/db", cfg.Database.DSN)
	assert.Equal(t, "redis-test:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "secret-token", cfg.Provider.Token)
}

func TestLoadRejectsInvalidBacktestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backtest:\n  holding_days: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
