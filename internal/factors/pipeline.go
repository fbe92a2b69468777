package factors

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// Factor computes one or more derived columns on a panel. Implementations
// must be stateless, must group by asset before any rolling computation, and
// must only use trailing windows (no look-ahead).
type Factor interface {
	// Name identifies the factor for logging and ordering.
	Name() string
	// Compute writes the factor's columns onto the panel in place.
	Compute(p *panel.Panel) error
}

// FactorError wraps a failure from a single factor. It indicates a broken
// upstream contract (missing input column, bad window) rather than a
// recoverable data gap, and aborts the pipeline immediately.
type FactorError struct {
	Factor string
	Err    error
}

func (e *FactorError) Error() string {
	return fmt.Sprintf("factor %s: %v", e.Factor, e.Err)
}

func (e *FactorError) Unwrap() error { return e.Err }

// Pipeline executes factors strictly in registration order, accumulating
// their columns on the same panel.
type Pipeline struct {
	factors []Factor
}

// NewPipeline creates an empty factor pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Add appends a factor to the pipeline. Returns the pipeline for chaining.
func (pl *Pipeline) Add(f Factor) *Pipeline {
	pl.factors = append(pl.factors, f)
	log.Debug().Str("factor", f.Name()).Msg("factor added to pipeline")
	return pl
}

// Len returns the number of registered factors.
func (pl *Pipeline) Len() int { return len(pl.factors) }

// Run executes every factor in order. The first failure aborts the run with
// a FactorError; no partial execution is reported as success.
func (pl *Pipeline) Run(p *panel.Panel) error {
	if p.Len() == 0 {
		log.Warn().Msg("factor pipeline: empty panel, nothing to compute")
		return nil
	}

	log.Info().Int("factors", len(pl.factors)).Int("rows", p.Len()).Msg("factor pipeline start")

	for i, f := range pl.factors {
		log.Debug().Int("step", i+1).Int("total", len(pl.factors)).Str("factor", f.Name()).Msg("computing factor")
		if err := f.Compute(p); err != nil {
			log.Error().Err(err).Str("factor", f.Name()).Msg("factor computation failed")
			return &FactorError{Factor: f.Name(), Err: err}
		}
	}

	log.Info().Int("rows", p.Len()).Msg("factor pipeline complete")
	return nil
}

// Default builds the standard screening pipeline: momentum percentile, trend
// moving average, volume ratio and valuation flag, in that order.
func Default(rpsWindow, maWindow, volWindow int, maxValuation float64) *Pipeline {
	return NewPipeline().
		Add(&RPSFactor{Window: rpsWindow}).
		Add(&MAFactor{Window: maWindow}).
		Add(&VolumeRatioFactor{Window: volWindow}).
		Add(&ValuationFactor{MaxRatio: maxValuation})
}
