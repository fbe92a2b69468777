package factors

import (
	"fmt"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// MAFactor computes the trend moving average of the close and a boolean
// above-trend flag. The average requires a full window: rows with fewer than
// Window observations get NaN and the flag stays false.
type MAFactor struct {
	Window int
}

// Name implements Factor.
func (f *MAFactor) Name() string { return fmt.Sprintf("ma_%d", f.Window) }

// Compute implements Factor. Adds the trend_ma and above_trend columns.
func (f *MAFactor) Compute(p *panel.Panel) error {
	if f.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", f.Window)
	}

	for _, rows := range p.ByAsset() {
		sum := 0.0
		for i, r := range rows {
			sum += r.Close
			if i >= f.Window {
				sum -= rows[i-f.Window].Close
			}
			if i < f.Window-1 {
				r.TrendMA = panel.NaN()
				r.AboveTrend = false
				continue
			}
			r.TrendMA = sum / float64(f.Window)
			r.AboveTrend = r.Close > r.TrendMA
		}
	}

	p.MarkColumns(panel.ColTrendMA, panel.ColAboveTrend)
	return nil
}

// VolumeRatioFactor computes volume relative to its trailing mean. The mean
// uses however many rows are available up to Window (min one), so the first
// row always ratios against itself. A zero mean yields NaN.
type VolumeRatioFactor struct {
	Window int
}

// Name implements Factor.
func (f *VolumeRatioFactor) Name() string { return fmt.Sprintf("volume_ratio_%d", f.Window) }

// Compute implements Factor. Adds the volume_ratio column.
func (f *VolumeRatioFactor) Compute(p *panel.Panel) error {
	if f.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", f.Window)
	}

	for _, rows := range p.ByAsset() {
		sum := 0.0
		for i, r := range rows {
			sum += r.Volume
			if i >= f.Window {
				sum -= rows[i-f.Window].Volume
			}
			n := i + 1
			if n > f.Window {
				n = f.Window
			}
			mean := sum / float64(n)
			if mean == 0 {
				r.VolumeRatio = panel.NaN()
				continue
			}
			r.VolumeRatio = r.Volume / mean
		}
	}

	p.MarkColumns(panel.ColVolumeRatio)
	return nil
}
