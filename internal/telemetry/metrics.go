// Package telemetry exposes run counters and timings over Prometheus.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the Prometheus instruments for the backtest core.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec // labelled success|failure
	RunDuration prometheus.Histogram
	TradesTotal prometheus.Counter
	FetchErrors prometheus.Counter
	ActiveRuns  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphahunter_backtest_runs_total",
				Help: "Completed backtest runs by result",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alphahunter_backtest_run_duration_seconds",
				Help:    "Wall time of one backtest run",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		TradesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "alphahunter_backtest_trades_total",
				Help: "Closed trades across all runs",
			},
		),
		FetchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "alphahunter_provider_fetch_errors_total",
				Help: "Market data fetch failures",
			},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alphahunter_backtest_active_runs",
				Help: "Backtest runs currently in progress",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.RunsTotal, m.RunDuration, m.TradesTotal, m.FetchErrors, m.ActiveRuns)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot gathers the registry into a flat name→value map, summing counters
// across label sets. Used by the health endpoint.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		total := 0.0
		for _, metric := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				total += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = total
	}
	return out
}
