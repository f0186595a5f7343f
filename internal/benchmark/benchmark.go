package benchmark

import (
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/calendar"
	"qtrader/internal/provider"
)

// Point is one day of benchmark history.
type Point struct {
	Date    string  `json:"date"`
	Close   float64 `json:"close"`
	Returns float64 `json:"returns"`
}

// Tracker records the daily closes of the configured benchmark symbol
// alongside the portfolio's equity history. It shares the fork truncation
// semantics of the portfolio history.
type Tracker struct {
	Symbol  string  `json:"symbol"`
	Initial float64 `json:"initial"`
	History []Point `json:"history"`
}

// NewTracker creates a tracker; an empty symbol disables it.
func NewTracker(symbol string) *Tracker {
	return &Tracker{Symbol: symbol}
}

// Enabled reports whether a benchmark symbol is configured.
func (b *Tracker) Enabled() bool {
	return b != nil && b.Symbol != ""
}

// UpdateDaily appends the benchmark close for the settlement day.
func (b *Tracker) UpdateDaily(p provider.Provider, dt time.Time) {
	if !b.Enabled() {
		return
	}
	quote := p.CurrentPrice(b.Symbol, dt)
	if quote == nil || quote.Price == 0 {
		logs.Warnf("no benchmark close for %s on %s", b.Symbol, dt.Format(calendar.DateLayout))
		return
	}
	if b.Initial == 0 {
		b.Initial = quote.Price
	}
	returns := 0.0
	if b.Initial > 0 {
		returns = (quote.Price - b.Initial) / b.Initial
	}
	b.History = append(b.History, Point{
		Date:    dt.Format(calendar.DateLayout),
		Close:   quote.Price,
		Returns: returns,
	})
}

// Truncate drops history entries at or after date.
func (b *Tracker) Truncate(date string) {
	if b == nil {
		return
	}
	kept := b.History[:0:0]
	for _, h := range b.History {
		if h.Date < date {
			kept = append(kept, h)
		}
	}
	b.History = kept
}
