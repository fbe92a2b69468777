package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/factors"
	"github.com/daasalpha/alphahunter/internal/provider"
	"github.com/daasalpha/alphahunter/internal/regime"
	"github.com/daasalpha/alphahunter/internal/signal"
	"github.com/daasalpha/alphahunter/internal/telemetry"
)

// Candidate is one asset passing the buy rule on the screening date.
type Candidate struct {
	AssetID        string  `json:"asset_id"`
	Momentum       float64 `json:"momentum"`
	VolumeRatio    float64 `json:"volume_ratio"`
	ValuationRatio float64 `json:"valuation_ratio"`
	Close          float64 `json:"close"`
}

// ScreenResult is the structured outcome of one screening run.
type ScreenResult struct {
	Success    bool         `json:"success"`
	TradeDate  time.Time    `json:"trade_date"`
	Regime     regime.State `json:"regime"`
	Candidates []Candidate  `json:"candidates"`
	Error      string       `json:"error,omitempty"`
}

// ScreenService runs the factor pipeline and buy rule on the most recent
// trading day, without simulating a portfolio.
type ScreenService struct {
	cfg      config.Config
	provider *provider.Client
	metrics  *telemetry.Metrics
}

// NewScreenService creates the screening service.
func NewScreenService(cfg config.Config, p *provider.Client, m *telemetry.Metrics) *ScreenService {
	return &ScreenService{cfg: cfg, provider: p, metrics: m}
}

// Run screens the universe as of the given date, using enough trailing
// history to fill every factor window.
func (s *ScreenService) Run(ctx context.Context, assets []string, asOf time.Time) ScreenResult {
	res, err := s.run(ctx, assets, asOf)
	if err != nil {
		log.Error().Err(err).Msg("screen run failed")
		return ScreenResult{Error: classify(err)}
	}
	return res
}

func (s *ScreenService) run(ctx context.Context, assets []string, asOf time.Time) (ScreenResult, error) {
	if len(assets) == 0 {
		var err error
		assets, err = s.provider.FetchUniverse(ctx, s.cfg.Benchmark)
		if err != nil {
			s.metrics.FetchErrors.Inc()
			return ScreenResult{}, err
		}
	}

	from := asOf.AddDate(0, 0, -s.cfg.Factors.RPSWindow*2)
	p, err := s.provider.FetchPanel(ctx, assets, from, asOf)
	if err != nil {
		s.metrics.FetchErrors.Inc()
		return ScreenResult{}, err
	}

	pipeline := factors.Default(s.cfg.Factors.RPSWindow, s.cfg.Factors.MAWindow,
		s.cfg.Factors.VolumeWindow, s.cfg.Factors.MaxValuation)
	if err := pipeline.Run(p); err != nil {
		return ScreenResult{}, err
	}

	gen := signal.NewGenerator(signal.Thresholds{
		Momentum:    s.cfg.Backtest.MomentumThreshold,
		VolumeRatio: s.cfg.Backtest.VolumeRatioThreshold,
	})
	if err := gen.Apply(p); err != nil {
		return ScreenResult{}, err
	}

	dates := p.TradingDates()
	if len(dates) == 0 {
		return ScreenResult{Success: true}, nil
	}
	last := dates[len(dates)-1]

	state := regime.None
	if bench, err := s.provider.FetchBenchmark(ctx, s.cfg.Benchmark, from, asOf); err == nil {
		if filter, ferr := regime.NewFilter(s.cfg.Regime); ferr == nil {
			state = filter.Compute(bench).At(last)
		}
	} else {
		s.metrics.FetchErrors.Inc()
		log.Warn().Err(err).Msg("benchmark fetch failed, regime unknown")
	}

	result := ScreenResult{Success: true, TradeDate: last, Regime: state}
	for _, r := range p.ByDate()[last] {
		if !r.BuySignal {
			continue
		}
		result.Candidates = append(result.Candidates, Candidate{
			AssetID:        r.AssetID,
			Momentum:       r.Momentum,
			VolumeRatio:    r.VolumeRatio,
			ValuationRatio: r.ValuationRatio,
			Close:          r.Close,
		})
	}
	sort.Slice(result.Candidates, func(i, j int) bool {
		if result.Candidates[i].Momentum != result.Candidates[j].Momentum {
			return result.Candidates[i].Momentum > result.Candidates[j].Momentum
		}
		return result.Candidates[i].AssetID < result.Candidates[j].AssetID
	})

	log.Info().
		Time("trade_date", last).
		Str("regime", state.String()).
		Int("candidates", len(result.Candidates)).
		Msg("screen complete")
	return result, nil
}
