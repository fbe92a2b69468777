package factors

import (
	"fmt"
	"sort"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// RPSFactor computes the cross-sectional momentum percentile (relative price
// strength). Per asset it takes the trailing percentage change over Window
// trading rows, then ranks that change across all assets on each date.
// Assets with fewer than Window+1 rows get NaN and never rank.
type RPSFactor struct {
	Window int
}

// Name implements Factor.
func (f *RPSFactor) Name() string { return fmt.Sprintf("rps_%d", f.Window) }

// Compute implements Factor. Adds the pct_chg and momentum columns.
func (f *RPSFactor) Compute(p *panel.Panel) error {
	if f.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", f.Window)
	}

	// Trailing return per asset. Rows are already (asset, date) sorted.
	for _, rows := range p.ByAsset() {
		for i, r := range rows {
			if i < f.Window || rows[i-f.Window].Close == 0 {
				r.PctChg = panel.NaN()
				continue
			}
			r.PctChg = (r.Close/rows[i-f.Window].Close - 1) * 100
		}
	}

	// Percentile rank within each date. Rank of v is (1 + count strictly
	// below v) / n over the date's non-NaN values, scaled to 0-100. Ties
	// share the lowest rank, matching a min-method percentile.
	for _, rows := range p.ByDate() {
		valid := make([]float64, 0, len(rows))
		for _, r := range rows {
			if panel.Valid(r.PctChg) {
				valid = append(valid, r.PctChg)
			}
		}
		sort.Float64s(valid)
		n := float64(len(valid))
		for _, r := range rows {
			if !panel.Valid(r.PctChg) {
				r.Momentum = panel.NaN()
				continue
			}
			below := sort.SearchFloat64s(valid, r.PctChg)
			rank := (float64(below) + 1) / n * 100
			if rank < 0 {
				rank = 0
			} else if rank > 100 {
				rank = 100
			}
			r.Momentum = rank
		}
	}

	p.MarkColumns(panel.ColPctChg, panel.ColMomentum)
	return nil
}
