package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daasalpha/alphahunter/internal/panel"
	"github.com/daasalpha/alphahunter/internal/regime"
)

func TestComputeMetrics(t *testing.T) {
	m := ComputeMetrics([]float64{10, -5, 15})

	assert.Equal(t, 3, m.TotalTrades)
	assert.InDelta(t, 200.0/3, m.WinRate, 1e-9)
	assert.InDelta(t, 20.0, m.TotalReturn, 1e-9)
	assert.InDelta(t, 20.0/3, m.AvgReturn, 1e-9)

	// Compounded trade curve 1.10 → 1.045 → 1.20175: one 5% dip.
	assert.InDelta(t, 5.0, m.MaxDrawdown, 1e-9)

	// Sample standard deviation (n-1) of {10,-5,15} around 20/3.
	std := math.Sqrt((3.3333333333*3.3333333333 + 11.6666666667*11.6666666667 + 8.3333333333*8.3333333333) / 2)
	assert.InDelta(t, (20.0/3)/std, m.SharpeRatio, 1e-6)
}

func TestComputeMetricsFiltersNaN(t *testing.T) {
	m := ComputeMetrics([]float64{10, math.NaN(), -5})
	assert.Equal(t, 2, m.TotalTrades)
	assert.InDelta(t, 5.0, m.TotalReturn, 1e-9)
}

func TestComputeMetricsEmpty(t *testing.T) {
	assert.Equal(t, Metrics{}, ComputeMetrics(nil))
	assert.Equal(t, Metrics{}, ComputeMetrics([]float64{math.NaN()}))
}

func TestComputeMetricsSingleTradeZeroSharpe(t *testing.T) {
	m := ComputeMetrics([]float64{10})
	assert.Zero(t, m.SharpeRatio, "no dispersion with one trade")
	assert.Equal(t, 100.0, m.WinRate)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 25.0, MaxDrawdown([]float64{1.0, 1.2, 0.9, 1.1}), 1e-9)
	assert.Zero(t, MaxDrawdown([]float64{1.0, 1.1, 1.2}), "monotonic rise never draws down")
	assert.Zero(t, MaxDrawdown(nil))
}

func TestComputeBenchmark(t *testing.T) {
	series := []regime.Point{
		{Date: day(0), Close: 100},
		{Date: day(1), Close: 110},
		{Date: day(2), Close: 99},
	}

	metrics, curve := ComputeBenchmark(series, nil)
	assert.InDelta(t, -1.0, metrics.TotalReturn, 1e-9)
	assert.InDelta(t, 0.0, metrics.AvgReturn, 1e-9)
	assert.InDelta(t, 10.0, metrics.MaxDrawdown, 1e-9)

	require.Len(t, curve, 3)
	assert.Equal(t, 1.0, curve[0].Value)
	assert.InDelta(t, 1.1, curve[1].Value, 1e-9)
	assert.InDelta(t, 0.99, curve[2].Value, 1e-9)
}

func TestComputeBenchmarkForwardFillsStrategyDates(t *testing.T) {
	series := []regime.Point{
		{Date: day(0), Close: 100},
		{Date: day(1), Close: 110},
		{Date: day(2), Close: 99},
	}
	strategyDates := []time.Time{day(0), day(1), day(4)}

	_, aligned := ComputeBenchmark(series, strategyDates)
	require.Len(t, aligned, 3)
	assert.Equal(t, 1.0, aligned[0].Value)
	assert.InDelta(t, 1.1, aligned[1].Value, 1e-9)
	assert.InDelta(t, 0.99, aligned[2].Value, 1e-9, "gap days carry the last benchmark value")
	assert.Equal(t, panel.Day(day(4)), aligned[2].Date)
}

func TestComputeBenchmarkEmptySeries(t *testing.T) {
	metrics, curve := ComputeBenchmark(nil, []time.Time{day(0)})
	assert.Equal(t, BenchmarkMetrics{}, metrics)
	assert.Nil(t, curve)
}

func TestTopWinnersAndLosers(t *testing.T) {
	r := &Result{Contributions: []Contribution{
		{AssetID: "A", TotalGain: 500},
		{AssetID: "B", TotalGain: 100},
		{AssetID: "C", TotalGain: -300},
	}}

	winners := r.TopWinners(2)
	require.Len(t, winners, 2)
	assert.Equal(t, "A", winners[0].AssetID)

	losers := r.TopLosers(2)
	require.Len(t, losers, 2)
	assert.Equal(t, "C", losers[0].AssetID)

	assert.Len(t, r.TopWinners(10), 3, "n clamps to the available set")
}
