// Package signal turns an enriched factor panel into binary buy signals.
package signal

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// StrategyError indicates a strategy-application failure (the panel does not
// carry the columns the strategy needs). It surfaces to the caller as a
// distinct kind from factor-computation failures.
type StrategyError struct {
	Op  string
	Err error
}

func (e *StrategyError) Error() string { return fmt.Sprintf("strategy %s: %v", e.Op, e.Err) }

func (e *StrategyError) Unwrap() error { return e.Err }

// Thresholds are the screening cutoffs for the buy rule.
type Thresholds struct {
	Momentum    float64 // momentum percentile must exceed this
	VolumeRatio float64 // volume ratio must exceed this
}

// Generator computes the buy_signal column: a logical AND of the momentum,
// valuation, liquidity and trend predicates. A missing/NaN factor value makes
// its predicate false, so insufficient look-back history silently suppresses
// a signal rather than erroring.
type Generator struct {
	thresholds Thresholds
}

// NewGenerator creates a signal generator with the given thresholds.
func NewGenerator(t Thresholds) *Generator {
	return &Generator{thresholds: t}
}

// Apply writes buy_signal on every row. It fails with a StrategyError when a
// required factor column was never computed; no row is written in that case.
func (g *Generator) Apply(p *panel.Panel) error {
	if err := p.Require(
		panel.ColMomentum,
		panel.ColUndervalued,
		panel.ColVolumeRatio,
		panel.ColAboveTrend,
	); err != nil {
		return &StrategyError{Op: "apply", Err: err}
	}

	signals := 0
	for i := range p.Rows {
		r := &p.Rows[i]
		r.BuySignal = panel.Valid(r.Momentum) && r.Momentum > g.thresholds.Momentum &&
			r.Undervalued &&
			panel.Valid(r.VolumeRatio) && r.VolumeRatio > g.thresholds.VolumeRatio &&
			r.AboveTrend
		if r.BuySignal {
			signals++
		}
	}
	p.MarkColumns(panel.ColBuySignal)

	log.Debug().Int("signals", signals).Int("rows", p.Len()).Msg("buy signals generated")
	return nil
}
