package backtest

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/panel"
	"github.com/daasalpha/alphahunter/internal/regime"
)

// Engine replays a signal-enriched panel day by day, carrying cash and open
// positions forward. The loop is single-threaded and strictly sequential;
// state on day t depends on every prior day, so days are never processed out
// of order or in parallel.
type Engine struct {
	config Config

	// OnDay, when set, is invoked after each simulated day. It is the only
	// cooperative suspension point: cancellation and progress reporting
	// happen between days, never during one.
	OnDay func(date time.Time, day, total int)
}

// NewEngine creates a simulator for the given parameters.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: cfg}, nil
}

// Run simulates the portfolio over the panel's trading dates, gating new
// entries with the regime signal. The panel must already carry buy signals
// and the momentum column; Run fails fast with a ValidationError otherwise.
//
// A cancelled context aborts between two simulated days and returns the
// context error; partial runs are not resumable and must be discarded.
func (e *Engine) Run(ctx context.Context, p *panel.Panel, gate regime.Signal) (*Result, error) {
	if err := p.Require(panel.ColBuySignal, panel.ColMomentum); err != nil {
		return nil, err
	}

	dates := p.TradingDates()
	result := &Result{
		EquityCurve:   make([]EquityPoint, 0, len(dates)),
		Trades:        make([]Trade, 0),
		Contributions: make([]Contribution, 0),
	}
	if len(dates) == 0 {
		log.Warn().Msg("simulator: empty panel, nothing to run")
		return result, nil
	}

	dateIdx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		dateIdx[d] = i
	}

	book := newPriceBook(p)
	signals := signalsByDate(p)

	cash := e.config.InitialCapital
	positions := make([]*Position, 0, e.config.MaxPositions)
	gains := make(map[string]float64)

	log.Info().
		Int("days", len(dates)).
		Int("assets", len(p.Assets())).
		Float64("initial_capital", e.config.InitialCapital).
		Int("max_positions", e.config.MaxPositions).
		Msg("simulation start")

	for ti, today := range dates {
		select {
		case <-ctx.Done():
			log.Warn().Int("day", ti).Msg("simulation cancelled between days")
			return nil, ctx.Err()
		default:
		}

		// Exit phase. A position is never evaluated on its own entry day.
		kept := positions[:0]
		for _, pos := range positions {
			if !pos.EntryDate.Before(today) {
				kept = append(kept, pos)
				continue
			}
			quad := book.Resolve(pos.AssetID, ti, dates, pos.EntryPrice)
			trade, exited := e.checkExit(pos, quad, today, ti-dateIdx[panel.Day(pos.EntryDate)])
			if !exited {
				kept = append(kept, pos)
				continue
			}
			proceeds := trade.ExitPrice * float64(trade.Shares) * (1 - e.config.CostRate)
			cash += proceeds
			trade.RealizedGain = proceeds - pos.EntryPrice*float64(pos.Shares)*(1+e.config.CostRate)
			gains[pos.AssetID] += trade.RealizedGain
			result.Trades = append(result.Trades, trade)
		}
		positions = kept

		// Entry phase, gated by the market regime. Signals seen today fill
		// at tomorrow's open; signals on the final day are dropped.
		if gate.At(today) != regime.Bear && ti+1 < len(dates) {
			next := dates[ti+1]
			for _, cand := range e.rankCandidates(signals[today], positions) {
				if len(positions) >= e.config.MaxPositions || cash <= 0 {
					break
				}
				open, ok := book.OpenAt(cand.AssetID, next)
				if !ok {
					continue
				}
				notional := e.config.InitialCapital / float64(e.config.MaxPositions)
				if cash < notional*(1+e.config.CostRate) {
					continue
				}
				shares := int64(math.Floor(notional / (open * (1 + e.config.CostRate))))
				if shares <= 0 {
					continue
				}
				cash -= open * float64(shares) * (1 + e.config.CostRate)
				positions = append(positions, &Position{
					AssetID:    cand.AssetID,
					EntryDate:  next,
					EntryPrice: open,
					Shares:     shares,
				})
			}
		}

		// Mark-to-market at today's close, same fallback chain as exits.
		posValue := 0.0
		for _, pos := range positions {
			quad := book.Resolve(pos.AssetID, ti, dates, pos.EntryPrice)
			posValue += quad.Close * float64(pos.Shares)
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			TradeDate:      today,
			Equity:         cash + posValue,
			Cash:           cash,
			PositionsValue: posValue,
			OpenPositions:  len(positions),
		})

		if e.OnDay != nil {
			e.OnDay(today, ti+1, len(dates))
		}
	}

	e.finalize(result, gains)

	log.Info().
		Int("trades", len(result.Trades)).
		Float64("win_rate", result.WinRate).
		Float64("total_return", result.TotalReturn).
		Float64("max_drawdown", result.MaxDrawdown).
		Msg("simulation complete")
	return result, nil
}

// checkExit evaluates the stop-loss and holding-period rules for one open
// position on one day. Stop-loss takes precedence; the fill is the day's open
// when the market gapped below the stop, otherwise the stop price itself.
func (e *Engine) checkExit(pos *Position, quad Quad, today time.Time, heldDays int) (Trade, bool) {
	stopPrice := pos.EntryPrice * (1 - e.config.StopLossPct)

	var exitPrice float64
	var reason ExitReason
	switch {
	case quad.Low < stopPrice:
		reason = StopLoss
		exitPrice = stopPrice
		if quad.Open < stopPrice {
			exitPrice = quad.Open
		}
	case heldDays >= e.config.HoldingDays-1:
		reason = HoldingPeriod
		exitPrice = quad.Close
	default:
		return Trade{}, false
	}

	return Trade{
		AssetID:    pos.AssetID,
		EntryDate:  pos.EntryDate,
		ExitDate:   today,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Shares:     pos.Shares,
		ReturnPct:  ((exitPrice-pos.EntryPrice)/pos.EntryPrice - e.config.CostRate) * 100,
		ExitReason: reason,
	}, true
}

// rankCandidates orders today's buy signals by momentum descending, dropping
// assets already held. Ties and NaN momentum rank by asset ID so identical
// inputs always produce identical entry order.
func (e *Engine) rankCandidates(rows []*panel.Row, positions []*Position) []*panel.Row {
	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.AssetID] = true
	}

	cands := make([]*panel.Row, 0, len(rows))
	for _, r := range rows {
		if !held[r.AssetID] {
			cands = append(cands, r)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		mi, mj := cands[i].Momentum, cands[j].Momentum
		vi, vj := panel.Valid(mi), panel.Valid(mj)
		switch {
		case vi && vj && mi != mj:
			return mi > mj
		case vi != vj:
			return vi
		default:
			return cands[i].AssetID < cands[j].AssetID
		}
	})
	return cands
}

// finalize derives metrics, the normalized curve and per-asset attribution.
func (e *Engine) finalize(result *Result, gains map[string]float64) {
	returns := make([]float64, len(result.Trades))
	for i, t := range result.Trades {
		returns[i] = t.ReturnPct
	}
	result.StrategyMetrics = ComputeMetrics(returns)
	result.WinRate = result.StrategyMetrics.WinRate

	result.NormalizedEquity = make([]CurvePoint, len(result.EquityCurve))
	equity := make([]float64, len(result.EquityCurve))
	for i, pt := range result.EquityCurve {
		v := pt.Equity / e.config.InitialCapital
		result.NormalizedEquity[i] = CurvePoint{Date: pt.TradeDate, Value: v}
		equity[i] = v
	}
	if len(equity) > 0 {
		result.TotalReturn = (equity[len(equity)-1] - 1) * 100
		result.MaxDrawdown = MaxDrawdown(equity)
	}

	result.Contributions = make([]Contribution, 0, len(gains))
	for asset, gain := range gains {
		result.Contributions = append(result.Contributions, Contribution{
			AssetID:   asset,
			TotalGain: gain,
			GainPct:   gain / e.config.InitialCapital * 100,
		})
	}
	sort.Slice(result.Contributions, func(i, j int) bool {
		if result.Contributions[i].TotalGain != result.Contributions[j].TotalGain {
			return result.Contributions[i].TotalGain > result.Contributions[j].TotalGain
		}
		return result.Contributions[i].AssetID < result.Contributions[j].AssetID
	})
}

// signalsByDate indexes the panel's buy-signal rows by trading date.
func signalsByDate(p *panel.Panel) map[time.Time][]*panel.Row {
	out := make(map[time.Time][]*panel.Row)
	for i := range p.Rows {
		if p.Rows[i].BuySignal {
			d := panel.Day(p.Rows[i].TradeDate)
			out[d] = append(out[d], &p.Rows[i])
		}
	}
	return out
}
