package factors

import (
	"fmt"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// ValuationFactor flags rows whose valuation ratio sits strictly between zero
// and MaxRatio. Missing or non-positive ratios are never flagged, so thin
// fundamental coverage suppresses signals instead of erroring.
type ValuationFactor struct {
	MaxRatio float64
}

// Name implements Factor.
func (f *ValuationFactor) Name() string { return fmt.Sprintf("valuation_%.0f", f.MaxRatio) }

// Compute implements Factor. Adds the undervalued column.
func (f *ValuationFactor) Compute(p *panel.Panel) error {
	if f.MaxRatio <= 0 {
		return fmt.Errorf("max ratio must be positive, got %v", f.MaxRatio)
	}

	for i := range p.Rows {
		r := &p.Rows[i]
		r.Undervalued = panel.Valid(r.ValuationRatio) && r.ValuationRatio > 0 && r.ValuationRatio < f.MaxRatio
	}

	p.MarkColumns(panel.ColUndervalued)
	return nil
}
