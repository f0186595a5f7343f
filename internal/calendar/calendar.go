package calendar

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"qtrader/internal/provider"
)

const (
	DateLayout     = "2006-01-02"
	ClockLayout    = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Session is a trading session delimited by open and close wall times,
// both formatted HH:MM:SS. Fixed-width clock strings order lexically,
// so session and schedule comparisons stay on strings throughout.
type Session struct {
	Open  string
	Close string
}

// Calendar owns the trading-day list and session boundaries. The day set is
// fetched from the provider once and cached.
type Calendar struct {
	provider provider.Provider
	sessions []Session

	days   []string
	daySet map[string]struct{}
}

// New builds a calendar over [start, end] using the provider's trading days.
func New(p provider.Provider, sessions []Session, start, end string) (*Calendar, error) {
	if p == nil {
		return nil, errors.New("calendar: nil provider")
	}
	for _, s := range sessions {
		if _, err := time.Parse(ClockLayout, s.Open); err != nil {
			return nil, errors.Wrap(err, "parse session open")
		}
		if _, err := time.Parse(ClockLayout, s.Close); err != nil {
			return nil, errors.Wrap(err, "parse session close")
		}
	}
	days := p.TradingCalendar(start, end)
	sorted := append([]string(nil), days...)
	sort.Strings(sorted)
	set := make(map[string]struct{}, len(sorted))
	for _, d := range sorted {
		set[d] = struct{}{}
	}
	return &Calendar{
		provider: p,
		sessions: append([]Session(nil), sessions...),
		days:     sorted,
		daySet:   set,
	}, nil
}

// TradingDays returns the cached trading days within [start, end].
func (c *Calendar) TradingDays(start, end string) []string {
	var days []string
	for _, d := range c.days {
		if d >= start && d <= end {
			days = append(days, d)
		}
	}
	return days
}

// IsTradingDay reports whether date (YYYY-MM-DD) is a trading day.
func (c *Calendar) IsTradingDay(date string) bool {
	_, ok := c.daySet[date]
	return ok
}

// IsTradingTime reports whether dt falls inside a session on a trading day.
func (c *Calendar) IsTradingTime(dt time.Time) bool {
	if !c.IsTradingDay(dt.Format(DateLayout)) {
		return false
	}
	clock := dt.Format(ClockLayout)
	for _, s := range c.sessions {
		if s.Open <= clock && clock <= s.Close {
			return true
		}
	}
	return false
}

// Sessions returns the configured trading sessions.
func (c *Calendar) Sessions() []Session {
	return c.sessions
}

// Clamp reports whether clock (HH:MM:SS) lies inside any session.
func (c *Calendar) Clamp(clock string) bool {
	if len(c.sessions) == 0 {
		return true
	}
	for _, s := range c.sessions {
		if s.Open <= clock && clock <= s.Close {
			return true
		}
	}
	return false
}

// At combines a trading date with a wall clock into a time.Time.
func At(date, clock string) (time.Time, error) {
	dt, err := time.ParseInLocation(DateTimeLayout, date+" "+clock, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "combine date and clock")
	}
	return dt, nil
}

// MergePoints merges, de-duplicates and sorts schedule points.
func MergePoints(base, extra []string) []string {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, p := range base {
		set[p] = struct{}{}
	}
	for _, p := range extra {
		set[p] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for p := range set {
		merged = append(merged, p)
	}
	sort.Strings(merged)
	return merged
}
