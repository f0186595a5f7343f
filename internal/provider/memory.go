package provider

import (
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Provider backed by per-day quotes. It serves the
// examples and the test suite; production runs plug in their own Provider.
//
// Quotes are keyed by (symbol, date); lookups ignore the intraday time unless
// an intraday series was set for the day. All methods are safe for concurrent
// readers.
type Memory struct {
	mu       sync.RWMutex
	calendar []string
	daily    map[string]map[string]Quote      // symbol -> date -> quote
	intraday map[string]map[string][]Slice    // symbol -> date -> time slices
	info     map[string]map[string]SymbolInfo // symbol -> date -> info
	infoAll  map[string]SymbolInfo            // symbol -> info for every day
}

// Slice is an intraday quote valid from At (HH:MM:SS) onward within its day.
type Slice struct {
	At    string
	Quote Quote
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		daily:    make(map[string]map[string]Quote),
		intraday: make(map[string]map[string][]Slice),
		info:     make(map[string]map[string]SymbolInfo),
		infoAll:  make(map[string]SymbolInfo),
	}
}

// SetCalendar replaces the trading calendar.
func (m *Memory) SetCalendar(days ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendar = append([]string(nil), days...)
	sort.Strings(m.calendar)
}

// SetQuote sets the quote for symbol on a whole day.
func (m *Memory) SetQuote(symbol, date string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.daily[symbol]
	if !ok {
		byDate = make(map[string]Quote)
		m.daily[symbol] = byDate
	}
	byDate[date] = q
}

// SetIntraday sets an intraday series for symbol on date. Slices must be in
// ascending At order; the latest slice at or before the query time wins.
func (m *Memory) SetIntraday(symbol, date string, slices ...Slice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.intraday[symbol]
	if !ok {
		byDate = make(map[string][]Slice)
		m.intraday[symbol] = byDate
	}
	byDate[date] = append([]Slice(nil), slices...)
}

// SetInfo sets the static info for symbol on date.
func (m *Memory) SetInfo(symbol, date string, info SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.info[symbol]
	if !ok {
		byDate = make(map[string]SymbolInfo)
		m.info[symbol] = byDate
	}
	byDate[date] = info
}

// SetInfoAll sets the static info for symbol on every day.
func (m *Memory) SetInfoAll(symbol string, info SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoAll[symbol] = info
}

// TradingCalendar returns the trading days within [start, end].
func (m *Memory) TradingCalendar(start, end string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var days []string
	for _, d := range m.calendar {
		if d >= start && d <= end {
			days = append(days, d)
		}
	}
	return days
}

// CurrentPrice returns the quote for symbol at dt, or nil.
func (m *Memory) CurrentPrice(symbol string, dt time.Time) *Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date := dt.Format("2006-01-02")
	if byDate, ok := m.intraday[symbol]; ok {
		if slices, ok := byDate[date]; ok && len(slices) > 0 {
			at := dt.Format("15:04:05")
			var found *Quote
			for i := range slices {
				if slices[i].At <= at {
					found = &slices[i].Quote
				}
			}
			if found != nil {
				q := *found
				return &q
			}
			return nil
		}
	}
	if byDate, ok := m.daily[symbol]; ok {
		if q, ok := byDate[date]; ok {
			return &q
		}
	}
	return nil
}

// SymbolInfo returns the static info for symbol on date, or nil.
func (m *Memory) SymbolInfo(symbol, date string) *SymbolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byDate, ok := m.info[symbol]; ok {
		if info, ok := byDate[date]; ok {
			return &info
		}
	}
	if info, ok := m.infoAll[symbol]; ok {
		return &info
	}
	return nil
}
