// Package backtest simulates a rule-based portfolio day by day against
// historical prices and derives performance metrics and attribution.
package backtest

import (
	"fmt"
	"time"
)

// Config carries every run parameter with its default. It is constructed
// once and passed by value into the engine; nothing reads configuration
// dynamically during a run.
type Config struct {
	HoldingDays          int     `yaml:"holding_days"`           // exit after this many trading days
	StopLossPct          float64 `yaml:"stop_loss_pct"`          // fraction, e.g. 0.08
	CostRate             float64 `yaml:"cost_rate"`              // flat per-side cost fraction
	InitialCapital       float64 `yaml:"initial_capital"`        // currency units
	MaxPositions         int     `yaml:"max_positions"`          // concurrent position cap
	MomentumThreshold    float64 `yaml:"momentum_threshold"`     // buy rule: momentum percentile cutoff
	VolumeRatioThreshold float64 `yaml:"volume_ratio_threshold"` // buy rule: volume ratio cutoff
}

// DefaultConfig returns the standard strategy parameters.
func DefaultConfig() Config {
	return Config{
		HoldingDays:          5,
		StopLossPct:          0.08,
		CostRate:             0.002,
		InitialCapital:       1_000_000,
		MaxPositions:         4,
		MomentumThreshold:    85,
		VolumeRatioThreshold: 1.5,
	}
}

// Validate rejects configurations the simulator cannot run with.
func (c Config) Validate() error {
	if c.HoldingDays <= 0 {
		return fmt.Errorf("holding_days must be positive, got %d", c.HoldingDays)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0,1), got %v", c.StopLossPct)
	}
	if c.CostRate < 0 || c.CostRate >= 1 {
		return fmt.Errorf("cost_rate must be in [0,1), got %v", c.CostRate)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions)
	}
	return nil
}

// ExitReason explains why a position was closed.
type ExitReason int

const (
	StopLoss ExitReason = iota
	HoldingPeriod
)

func (r ExitReason) String() string {
	switch r {
	case StopLoss:
		return "stop_loss"
	case HoldingPeriod:
		return "holding_period"
	default:
		return "unknown"
	}
}

// Position is one open holding. There is at most one open position per asset
// and positions close in full, never partially.
type Position struct {
	AssetID    string
	EntryDate  time.Time
	EntryPrice float64
	Shares     int64
}

// Trade is a closed round trip. Immutable once appended to the log.
type Trade struct {
	AssetID      string     `json:"asset_id" db:"asset_id"`
	EntryDate    time.Time  `json:"entry_date" db:"entry_date"`
	ExitDate     time.Time  `json:"exit_date" db:"exit_date"`
	EntryPrice   float64    `json:"entry_price" db:"entry_price"`
	ExitPrice    float64    `json:"exit_price" db:"exit_price"`
	Shares       int64      `json:"shares" db:"shares"`
	ReturnPct    float64    `json:"return_pct" db:"return_pct"`
	ExitReason   ExitReason `json:"exit_reason" db:"exit_reason"`
	RealizedGain float64    `json:"realized_gain" db:"realized_gain"`
}

// EquityPoint is one mark-to-market snapshot. Exactly one per simulated
// trading day, strictly increasing by date; the first point exists even when
// no trade ever fires.
type EquityPoint struct {
	TradeDate      time.Time `json:"trade_date" db:"trade_date"`
	Equity         float64   `json:"equity" db:"equity"`
	Cash           float64   `json:"cash" db:"cash"`
	PositionsValue float64   `json:"positions_value" db:"positions_value"`
	OpenPositions  int       `json:"open_positions" db:"open_positions"`
}

// CurvePoint is a normalized equity value on a trading date (1.0 = initial
// capital), used for strategy-vs-benchmark comparison.
type CurvePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Contribution is one asset's summed realized gain across its closed trades.
type Contribution struct {
	AssetID   string  `json:"asset_id"`
	TotalGain float64 `json:"total_gain"`
	GainPct   float64 `json:"gain_pct"` // of initial capital
}

// Metrics summarizes a series of per-trade percentage returns. Zero-valued
// when there are no trades.
type Metrics struct {
	WinRate     float64 `json:"win_rate"`
	TotalReturn float64 `json:"total_return"` // simple sum of per-trade returns, non-compounded
	AvgReturn   float64 `json:"avg_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	TotalTrades int     `json:"total_trades"`
}

// BenchmarkMetrics summarizes the benchmark's daily return series.
type BenchmarkMetrics struct {
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	AvgReturn   float64 `json:"avg_return"`
}

// Result is the full output bundle of one simulation run.
//
// Two total-return definitions coexist deliberately: Result.TotalReturn is
// compounded from the equity curve, while StrategyMetrics.TotalReturn is the
// simple sum of per-trade returns. They differ whenever trades overlap in
// time; both are preserved and callers must not treat them as interchangeable.
type Result struct {
	TotalReturn float64 `json:"total_return"` // compounded, from the equity curve
	MaxDrawdown float64 `json:"max_drawdown"` // from the equity curve
	WinRate     float64 `json:"win_rate"`

	EquityCurve      []EquityPoint    `json:"equity_curve"`
	NormalizedEquity []CurvePoint     `json:"normalized_equity"`
	BenchmarkCurve   []CurvePoint     `json:"benchmark_curve"`
	Trades           []Trade          `json:"trades"`
	Contributions    []Contribution   `json:"contributions"` // sorted by gain descending
	StrategyMetrics  Metrics          `json:"strategy_metrics"`
	BenchmarkMetrics BenchmarkMetrics `json:"benchmark_metrics"`
}

// TopWinners returns up to n contributions ranked by gain descending.
func (r *Result) TopWinners(n int) []Contribution {
	if n > len(r.Contributions) {
		n = len(r.Contributions)
	}
	return r.Contributions[:n]
}

// TopLosers returns up to n contributions ranked by gain ascending.
func (r *Result) TopLosers(n int) []Contribution {
	out := make([]Contribution, len(r.Contributions))
	copy(out, r.Contributions)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
