package backtest

import (
	"time"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// Quad is one day's open/high/low/close for an asset. A quad is valid iff
// all four fields are present and positive.
type Quad struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// IsValid reports whether the quad can be used for fills and marks.
func (q Quad) IsValid() bool {
	return panel.Valid(q.Open) && q.Open > 0 &&
		panel.Valid(q.High) && q.High > 0 &&
		panel.Valid(q.Low) && q.Low > 0 &&
		panel.Valid(q.Close) && q.Close > 0
}

// priceBook is the in-memory price lookup built once before the simulation
// loop starts. No I/O happens inside the loop.
type priceBook struct {
	quads map[string]map[time.Time]Quad
}

func newPriceBook(p *panel.Panel) *priceBook {
	book := &priceBook{quads: make(map[string]map[time.Time]Quad)}
	for i := range p.Rows {
		r := &p.Rows[i]
		byDate, ok := book.quads[r.AssetID]
		if !ok {
			byDate = make(map[time.Time]Quad)
			book.quads[r.AssetID] = byDate
		}
		byDate[panel.Day(r.TradeDate)] = Quad{Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}
	}
	return book
}

// At returns the quad for an asset on a date, valid or not.
func (b *priceBook) At(asset string, date time.Time) (Quad, bool) {
	byDate, ok := b.quads[asset]
	if !ok {
		return Quad{}, false
	}
	q, ok := byDate[date]
	return q, ok
}

// OpenAt returns the opening price for an asset on a date. Entries require a
// real quote; there is no fallback on the entry side.
func (b *priceBook) OpenAt(asset string, date time.Time) (float64, bool) {
	q, ok := b.At(asset, date)
	if !ok || !panel.Valid(q.Open) || q.Open <= 0 {
		return 0, false
	}
	return q.Open, true
}

// Resolve returns the quad used for exit checks and mark-to-market on the
// trading day at index ti, walking the fallback chain: today's quad, then the
// prior trading day's, then a flat quad at the position's entry price. The
// chain degrades locally and never aborts the run.
func (b *priceBook) Resolve(asset string, ti int, dates []time.Time, entryPrice float64) Quad {
	if q, ok := b.At(asset, dates[ti]); ok && q.IsValid() {
		return q
	}
	if ti > 0 {
		if q, ok := b.At(asset, dates[ti-1]); ok && q.IsValid() {
			return q
		}
	}
	return Quad{Open: entryPrice, High: entryPrice, Low: entryPrice, Close: entryPrice}
}
