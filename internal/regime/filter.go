// Package regime derives a confirmed bull/bear signal from a benchmark index
// and gates new portfolio entries in adverse markets.
package regime

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// State classifies one trading day of the benchmark.
type State int

const (
	Bear State = -1 // bearish or not yet confirmed
	None State = 0  // no benchmark data for the date
	Bull State = 1  // confirmed bull
)

func (s State) String() string {
	switch s {
	case Bear:
		return "bear"
	case Bull:
		return "bull"
	default:
		return "none"
	}
}

// Point is one benchmark daily close.
type Point struct {
	Date  time.Time
	Close float64
}

// Signal maps trading dates to regime states. Dates absent from the
// benchmark series read as None and do not gate entries.
type Signal map[time.Time]State

// At returns the state for a trading date.
func (s Signal) At(d time.Time) State {
	return s[panel.Day(d)]
}

// Config controls the bias-ratio indicator and its confirmation debounce.
type Config struct {
	MAWindows   []int `yaml:"ma_windows"`   // moving-average windows for the bias ratio
	ConfirmDays int   `yaml:"confirm_days"` // consecutive bull days before confirmation
}

// DefaultConfig returns the standard bias-ratio setup.
func DefaultConfig() Config {
	return Config{
		MAWindows:   []int{3, 6, 12, 24},
		ConfirmDays: 3,
	}
}

// Filter computes the confirmed regime signal. The indicator is the mean of
// several trailing moving averages of the benchmark close; a day is bullish
// when the close sits above it. Bull is only confirmed after ConfirmDays
// consecutive bullish days, and a single bearish day resets the streak.
type Filter struct {
	config Config
}

// NewFilter creates a regime filter, validating the configuration.
func NewFilter(cfg Config) (*Filter, error) {
	if len(cfg.MAWindows) == 0 {
		return nil, fmt.Errorf("regime filter needs at least one MA window")
	}
	for _, w := range cfg.MAWindows {
		if w <= 0 {
			return nil, fmt.Errorf("MA windows must be positive, got %v", cfg.MAWindows)
		}
	}
	if cfg.ConfirmDays <= 0 {
		return nil, fmt.Errorf("confirmation days must be positive, got %d", cfg.ConfirmDays)
	}
	return &Filter{config: cfg}, nil
}

// Compute derives the regime signal from a benchmark close series. An empty
// series yields an empty signal (every date reads None: no gate).
func (f *Filter) Compute(series []Point) Signal {
	sig := make(Signal, len(series))
	if len(series) == 0 {
		log.Warn().Msg("regime filter: empty benchmark series, entries ungated")
		return sig
	}

	pts := make([]Point, len(series))
	copy(pts, series)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	bias := f.biasRatio(pts)

	streak := 0
	bullDays := 0
	for i, pt := range pts {
		state := Bear
		if pt.Close > bias[i] {
			streak++
			if streak >= f.config.ConfirmDays {
				state = Bull
				bullDays++
			}
		} else {
			streak = 0
		}
		sig[panel.Day(pt.Date)] = state
	}

	log.Info().
		Int("days", len(pts)).
		Int("bull_days", bullDays).
		Int("confirm_days", f.config.ConfirmDays).
		Msg("regime signal computed")
	return sig
}

// biasRatio returns the mean of the configured trailing moving averages for
// each day. Every average uses however many rows are available (min one), so
// the indicator is defined from the first day.
func (f *Filter) biasRatio(pts []Point) []float64 {
	bias := make([]float64, len(pts))
	sums := make([]float64, len(f.config.MAWindows))
	for i := range pts {
		total := 0.0
		for wi, w := range f.config.MAWindows {
			sums[wi] += pts[i].Close
			if i >= w {
				sums[wi] -= pts[i-w].Close
			}
			n := i + 1
			if n > w {
				n = w
			}
			total += sums[wi] / float64(n)
		}
		bias[i] = total / float64(len(f.config.MAWindows))
	}
	return bias
}

// Returns computes the benchmark's daily percentage returns, date-ascending.
// The first day has no prior close and is skipped.
func Returns(series []Point) []float64 {
	if len(series) < 2 {
		return nil
	}
	pts := make([]Point, len(series))
	copy(pts, series)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	out := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		if pts[i-1].Close == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (pts[i].Close/pts[i-1].Close-1)*100)
	}
	return out
}
