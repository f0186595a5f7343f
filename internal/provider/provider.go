package provider

import "time"

// Quote is a point-in-time price snapshot for a symbol. Optional book and
// limit fields are zero when the source does not supply them.
type Quote struct {
	Price     float64 `json:"price"`
	Ask1      float64 `json:"ask1,omitempty"`
	Bid1      float64 `json:"bid1,omitempty"`
	HighLimit float64 `json:"highLimit,omitempty"`
	LowLimit  float64 `json:"lowLimit,omitempty"`
}

// SymbolInfo is the per-day static view of a symbol.
type SymbolInfo struct {
	Name      string `json:"name"`
	Suspended bool   `json:"suspended"`
}

// Provider is the market data contract the engine depends on.
//
// In backtest mode every method must be deterministic per inputs. A nil
// Quote during trading means "no quote this tick": affected orders are
// deferred, not rejected. A nil SymbolInfo for the day rejects orders on
// that symbol.
type Provider interface {
	// TradingCalendar returns the ordered trading days in [start, end],
	// formatted YYYY-MM-DD. May be empty.
	TradingCalendar(start, end string) []string

	// CurrentPrice returns the quote for symbol at dt, or nil.
	CurrentPrice(symbol string, dt time.Time) *Quote

	// SymbolInfo returns the static info for symbol on date, or nil.
	SymbolInfo(symbol, date string) *SymbolInfo
}
