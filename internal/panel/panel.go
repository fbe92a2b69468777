package panel

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Column names for derived factor outputs. Factors mark the columns they add
// so downstream consumers can fail fast when an input column is missing.
const (
	ColPctChg      = "pct_chg"
	ColMomentum    = "momentum"
	ColTrendMA     = "trend_ma"
	ColAboveTrend  = "above_trend"
	ColVolumeRatio = "volume_ratio"
	ColUndervalued = "undervalued"
	ColBuySignal   = "buy_signal"
)

// Row is a single (asset, trading day) observation plus derived factor values.
// Derived float columns use NaN for "not computable" (insufficient history,
// zero denominator); boolean columns default to false in that case.
type Row struct {
	AssetID        string
	TradeDate      time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	ValuationRatio float64

	PctChg      float64
	Momentum    float64
	TrendMA     float64
	AboveTrend  bool
	VolumeRatio float64
	Undervalued bool
	BuySignal   bool
}

// Panel is a tidy table of rows keyed by (asset, date). Rows are kept sorted
// by (asset, date) ascending; every rolling computation relies on that order.
type Panel struct {
	Rows []Row

	cols map[string]bool
}

// ValidationError reports required columns missing from the panel, or a
// malformed panel (duplicate keys). It is raised before any simulation starts.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("panel validation failed: missing columns [%s]", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("panel validation failed: %s", e.Reason)
}

// New builds a panel from rows and sorts it by (asset, date). The base price
// and valuation columns are considered present on every panel.
func New(rows []Row) *Panel {
	p := &Panel{
		Rows: rows,
		cols: make(map[string]bool),
	}
	p.Sort()
	return p
}

// Sort orders rows by (asset, date) ascending. Stable so equal keys keep
// their input order.
func (p *Panel) Sort() {
	sort.SliceStable(p.Rows, func(i, j int) bool {
		if p.Rows[i].AssetID != p.Rows[j].AssetID {
			return p.Rows[i].AssetID < p.Rows[j].AssetID
		}
		return p.Rows[i].TradeDate.Before(p.Rows[j].TradeDate)
	})
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.Rows) }

// MarkColumns records that the named derived columns have been computed.
func (p *Panel) MarkColumns(names ...string) {
	for _, n := range names {
		p.cols[n] = true
	}
}

// HasColumn reports whether a derived column has been computed.
func (p *Panel) HasColumn(name string) bool { return p.cols[name] }

// Require returns a ValidationError naming every requested column that has
// not been computed yet.
func (p *Panel) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !p.cols[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Validate checks the (asset, date) uniqueness invariant.
func (p *Panel) Validate() error {
	seen := make(map[string]struct{}, len(p.Rows))
	for i := range p.Rows {
		key := p.Rows[i].AssetID + "|" + Day(p.Rows[i].TradeDate).Format("20060102")
		if _, dup := seen[key]; dup {
			return &ValidationError{Reason: fmt.Sprintf("duplicate row for %s on %s",
				p.Rows[i].AssetID, p.Rows[i].TradeDate.Format("2006-01-02"))}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ByAsset returns per-asset row pointers in ascending date order. The
// pointers alias p.Rows so factor writes are visible on the panel.
func (p *Panel) ByAsset() map[string][]*Row {
	groups := make(map[string][]*Row)
	for i := range p.Rows {
		groups[p.Rows[i].AssetID] = append(groups[p.Rows[i].AssetID], &p.Rows[i])
	}
	return groups
}

// ByDate returns per-date row pointers. Dates are normalized to UTC midnight.
func (p *Panel) ByDate() map[time.Time][]*Row {
	groups := make(map[time.Time][]*Row)
	for i := range p.Rows {
		d := Day(p.Rows[i].TradeDate)
		groups[d] = append(groups[d], &p.Rows[i])
	}
	return groups
}

// Assets returns the distinct asset IDs in ascending order.
func (p *Panel) Assets() []string {
	set := make(map[string]struct{})
	for i := range p.Rows {
		set[p.Rows[i].AssetID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// TradingDates returns the sorted unique trading dates across all assets.
// Holding-period distances are measured as index distances in this slice.
func (p *Panel) TradingDates() []time.Time {
	set := make(map[time.Time]struct{})
	for i := range p.Rows {
		set[Day(p.Rows[i].TradeDate)] = struct{}{}
	}
	out := make([]time.Time, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Day normalizes a timestamp to its UTC calendar day, the canonical map key
// for daily data.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NaN is the missing-value marker for derived float columns.
func NaN() float64 { return math.NaN() }

// Valid reports whether v is a usable numeric value (finite, not NaN).
func Valid(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
