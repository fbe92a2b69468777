package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/daasalpha/alphahunter/internal/panel"
	"github.com/daasalpha/alphahunter/internal/regime"
)

// ComputeMetrics summarizes per-trade percentage returns. An empty or
// all-NaN series reports neutral zero-valued metrics rather than erroring.
func ComputeMetrics(returns []float64) Metrics {
	valid := make([]float64, 0, len(returns))
	for _, r := range returns {
		if panel.Valid(r) {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return Metrics{}
	}

	wins := 0
	total := 0.0
	for _, r := range valid {
		if r > 0 {
			wins++
		}
		total += r
	}
	avg := total / float64(len(valid))

	// Drawdown of the compounded trade-return sequence, in trade order.
	curve := make([]float64, len(valid))
	cum := 1.0
	for i, r := range valid {
		cum *= 1 + r/100
		curve[i] = cum
	}

	sharpe := 0.0
	if sd := sampleStd(valid, avg); sd > 0 {
		sharpe = avg / sd
	}

	return Metrics{
		WinRate:     float64(wins) / float64(len(valid)) * 100,
		TotalReturn: total,
		AvgReturn:   avg,
		MaxDrawdown: MaxDrawdown(curve),
		SharpeRatio: sharpe,
		TotalTrades: len(valid),
	}
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity
// series, as a percentage of the running peak.
func MaxDrawdown(equity []float64) float64 {
	maxDD := 0.0
	peak := math.Inf(-1)
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (1 - v/peak) * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// ComputeBenchmark compounds the benchmark daily returns into metrics and an
// equity curve forward-filled onto the strategy's trading dates, so the two
// curves can be compared point by point.
func ComputeBenchmark(series []regime.Point, strategyDates []time.Time) (BenchmarkMetrics, []CurvePoint) {
	returns := regime.Returns(series)
	if len(returns) == 0 {
		return BenchmarkMetrics{}, nil
	}

	pts := make([]regime.Point, len(series))
	copy(pts, series)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	// Compounded value per benchmark date, starting at 1.0 on the first day.
	curve := make([]CurvePoint, len(pts))
	curve[0] = CurvePoint{Date: panel.Day(pts[0].Date), Value: 1.0}
	equity := make([]float64, 0, len(returns))
	cum := 1.0
	total := 0.0
	for i, r := range returns {
		cum *= 1 + r/100
		equity = append(equity, cum)
		total += r
		curve[i+1] = CurvePoint{Date: panel.Day(pts[i+1].Date), Value: cum}
	}

	metrics := BenchmarkMetrics{
		TotalReturn: (cum - 1) * 100,
		MaxDrawdown: MaxDrawdown(equity),
		AvgReturn:   total / float64(len(returns)),
	}

	if len(strategyDates) == 0 {
		return metrics, curve
	}

	// Forward-fill onto the strategy's dates.
	aligned := make([]CurvePoint, 0, len(strategyDates))
	bi := 0
	last := 1.0
	for _, d := range strategyDates {
		day := panel.Day(d)
		for bi < len(curve) && !curve[bi].Date.After(day) {
			last = curve[bi].Value
			bi++
		}
		aligned = append(aligned, CurvePoint{Date: day, Value: last})
	}
	return metrics, aligned
}

func sampleStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
