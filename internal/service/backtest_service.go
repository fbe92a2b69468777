// Package service orchestrates data fetching, factor computation, signal
// generation and simulation into complete backtest runs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/backtest"
	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/factors"
	"github.com/daasalpha/alphahunter/internal/panel"
	"github.com/daasalpha/alphahunter/internal/persistence"
	"github.com/daasalpha/alphahunter/internal/provider"
	"github.com/daasalpha/alphahunter/internal/regime"
	"github.com/daasalpha/alphahunter/internal/signal"
	"github.com/daasalpha/alphahunter/internal/telemetry"
)

// Params describes one backtest request. Zero-valued fields fall back to the
// configured defaults.
type Params struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Assets    []string        `json:"assets,omitempty"` // empty = benchmark constituents
	Benchmark string          `json:"benchmark,omitempty"`
	Config    backtest.Config `json:"config"`
}

// Result is the structured outcome returned across the orchestration
// boundary. A failed run reports success=false and the reason; it never
// panics or leaks a raw error past this boundary.
type Result struct {
	Success bool             `json:"success"`
	RunID   string           `json:"run_id"`
	Report  *backtest.Result `json:"report,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ProgressEvent reports day-loop progress of a running simulation.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Date      time.Time `json:"date"`
	Day       int       `json:"day"`
	TotalDays int       `json:"total_days"`
}

// ProgressSink receives progress events, e.g. the websocket hub.
type ProgressSink interface {
	Publish(ProgressEvent)
}

// BacktestService wires provider, factor pipeline, regime filter, simulator
// and persistence into one entry point.
type BacktestService struct {
	cfg      config.Config
	provider *provider.Client
	store    persistence.Store // nil when persistence is disabled
	metrics  *telemetry.Metrics
	progress ProgressSink // nil when nobody listens
}

// NewBacktestService creates the service. store and progress may be nil.
func NewBacktestService(cfg config.Config, p *provider.Client, store persistence.Store,
	m *telemetry.Metrics, progress ProgressSink) *BacktestService {
	return &BacktestService{
		cfg:      cfg,
		provider: p,
		store:    store,
		metrics:  m,
		progress: progress,
	}
}

// Run executes a full backtest: fetch → factors → signals → regime →
// simulate → metrics → persist. All fetching completes before the simulator
// starts; cancellation is honored between simulated days.
func (s *BacktestService) Run(ctx context.Context, params Params) Result {
	runID := uuid.NewString()
	started := time.Now()

	s.metrics.ActiveRuns.Inc()
	defer s.metrics.ActiveRuns.Dec()

	log.Info().
		Str("run_id", runID).
		Time("from", params.From).
		Time("to", params.To).
		Msg("backtest run start")

	report, err := s.run(ctx, runID, params)

	elapsed := time.Since(started)
	s.metrics.RunDuration.Observe(elapsed.Seconds())

	result := Result{RunID: runID}
	if err != nil {
		s.metrics.RunsTotal.WithLabelValues("failure").Inc()
		result.Error = classify(err)
		log.Error().Err(err).Str("run_id", runID).Dur("elapsed", elapsed).Msg("backtest run failed")
	} else {
		s.metrics.RunsTotal.WithLabelValues("success").Inc()
		s.metrics.TradesTotal.Add(float64(len(report.Trades)))
		result.Success = true
		result.Report = report
		log.Info().
			Str("run_id", runID).
			Dur("elapsed", elapsed).
			Int("trades", len(report.Trades)).
			Float64("total_return", report.TotalReturn).
			Msg("backtest run complete")
	}

	s.persist(runID, started, params, result)
	return result
}

func (s *BacktestService) run(ctx context.Context, runID string, params Params) (*backtest.Result, error) {
	if params.To.Before(params.From) {
		return nil, fmt.Errorf("invalid range: to %s before from %s",
			params.To.Format("2006-01-02"), params.From.Format("2006-01-02"))
	}
	if params.Benchmark == "" {
		params.Benchmark = s.cfg.Benchmark
	}
	if (params.Config == backtest.Config{}) {
		params.Config = s.cfg.Backtest
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	assets := params.Assets
	if len(assets) == 0 {
		var err error
		assets, err = s.provider.FetchUniverse(ctx, params.Benchmark)
		if err != nil {
			s.metrics.FetchErrors.Inc()
			return nil, err
		}
	}

	// Fetch history with a look-back pad so rolling factors have data at the
	// start of the requested range.
	pad := s.cfg.Factors.RPSWindow * 2
	fetchFrom := params.From.AddDate(0, 0, -pad)

	p, err := s.provider.FetchPanel(ctx, assets, fetchFrom, params.To)
	if err != nil {
		s.metrics.FetchErrors.Inc()
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	bench, err := s.provider.FetchBenchmark(ctx, params.Benchmark, fetchFrom, params.To)
	if err != nil {
		// Benchmark data is not fatal: entries go ungated and the comparison
		// section stays empty, matching a degraded data day.
		s.metrics.FetchErrors.Inc()
		log.Warn().Err(err).Str("benchmark", params.Benchmark).Msg("benchmark fetch failed, continuing ungated")
		bench = nil
	}

	pipeline := factors.Default(s.cfg.Factors.RPSWindow, s.cfg.Factors.MAWindow,
		s.cfg.Factors.VolumeWindow, s.cfg.Factors.MaxValuation)
	if err := pipeline.Run(p); err != nil {
		return nil, err
	}

	gen := signal.NewGenerator(signal.Thresholds{
		Momentum:    params.Config.MomentumThreshold,
		VolumeRatio: params.Config.VolumeRatioThreshold,
	})
	if err := gen.Apply(p); err != nil {
		return nil, err
	}

	filter, err := regime.NewFilter(s.cfg.Regime)
	if err != nil {
		return nil, err
	}
	gate := filter.Compute(bench)

	// Trim the look-back pad so the simulation starts at the requested date.
	p = trimBefore(p, params.From)

	engine, err := backtest.NewEngine(params.Config)
	if err != nil {
		return nil, err
	}
	if s.progress != nil {
		engine.OnDay = func(date time.Time, day, total int) {
			s.progress.Publish(ProgressEvent{RunID: runID, Date: date, Day: day, TotalDays: total})
		}
	}

	report, err := engine.Run(ctx, p, gate)
	if err != nil {
		return nil, err
	}

	benchInRange := make([]regime.Point, 0, len(bench))
	for _, pt := range bench {
		if !pt.Date.Before(params.From) {
			benchInRange = append(benchInRange, pt)
		}
	}
	report.BenchmarkMetrics, report.BenchmarkCurve = backtest.ComputeBenchmark(benchInRange, datesOf(report.EquityCurve))

	return report, nil
}

// persist writes the run summary, trade log and equity curve when a store is
// configured. Persistence failures are logged but do not fail the run.
func (s *BacktestService) persist(runID string, started time.Time, params Params, result Result) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	paramsJSON, _ := json.Marshal(params)
	run := persistence.Run{
		ID:        runID,
		StartedAt: started,
		FromDate:  params.From,
		ToDate:    params.To,
		Params:    paramsJSON,
		Success:   result.Success,
		Error:     result.Error,
	}
	if result.Report != nil {
		run.TotalReturn = result.Report.TotalReturn
		run.MaxDrawdown = result.Report.MaxDrawdown
		run.WinRate = result.Report.WinRate
		run.TotalTrades = len(result.Report.Trades)
	}

	if err := s.store.SaveRun(ctx, run); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("failed to persist run")
		return
	}
	if result.Report != nil {
		if err := s.store.SaveTrades(ctx, runID, result.Report.Trades); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("failed to persist trades")
		}
		if err := s.store.SaveEquityCurve(ctx, runID, result.Report.EquityCurve); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("failed to persist equity curve")
		}
	}
}

// classify maps typed error kinds to the reason strings exposed to callers.
func classify(err error) string {
	var factorErr *factors.FactorError
	var strategyErr *signal.StrategyError
	var validationErr *panel.ValidationError
	var fetchErr *provider.FetchError
	switch {
	case errors.As(err, &factorErr):
		return "factor computation failed: " + factorErr.Error()
	case errors.As(err, &strategyErr):
		return "strategy application failed: " + strategyErr.Error()
	case errors.As(err, &validationErr):
		return "input validation failed: " + validationErr.Error()
	case errors.As(err, &fetchErr):
		return "data fetch failed: " + fetchErr.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "run aborted: " + err.Error()
	default:
		return err.Error()
	}
}

func trimBefore(p *panel.Panel, from time.Time) *panel.Panel {
	day := panel.Day(from)
	rows := make([]panel.Row, 0, len(p.Rows))
	cols := []string{}
	for _, c := range []string{panel.ColPctChg, panel.ColMomentum, panel.ColTrendMA,
		panel.ColAboveTrend, panel.ColVolumeRatio, panel.ColUndervalued, panel.ColBuySignal} {
		if p.HasColumn(c) {
			cols = append(cols, c)
		}
	}
	for i := range p.Rows {
		if !panel.Day(p.Rows[i].TradeDate).Before(day) {
			rows = append(rows, p.Rows[i])
		}
	}
	trimmed := panel.New(rows)
	trimmed.MarkColumns(cols...)
	return trimmed
}

func datesOf(curve []backtest.EquityPoint) []time.Time {
	out := make([]time.Time, len(curve))
	for i, pt := range curve {
		out[i] = pt.TradeDate
	}
	return out
}
