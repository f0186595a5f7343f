package account

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var ErrShortNotAllowed = errors.New("short selling not allowed in long-only mode")

// TradingMode selects whether the account may open short positions.
type TradingMode string

const (
	ModeLongOnly  TradingMode = "long_only"
	ModeLongShort TradingMode = "long_short"
)

// Key identifies a position slot.
type Key struct {
	Symbol    string
	Direction Direction
}

// DailySnapshot is the position book recorded at one settlement.
type DailySnapshot struct {
	Date      string          `json:"date"`
	Positions []DailyPosition `json:"positions"`
}

// Manager tracks every (symbol, direction) position plus the per-day
// settlement snapshots. Slots are removed the moment their total reaches
// zero so stale entries never skew market values.
type Manager struct {
	positions map[Key]*Position
	order     []Key // insertion order, for deterministic iteration
	snapshots []DailySnapshot

	marginRate float64
	rule       TradingRule
}

// NewManager creates an empty position manager.
func NewManager(marginRate float64, rule TradingRule) *Manager {
	if rule == "" {
		rule = RuleT1
	}
	return &Manager{
		positions:  make(map[Key]*Position),
		marginRate: marginRate,
		rule:       rule,
	}
}

// Rule returns the configured trading rule.
func (m *Manager) Rule() TradingRule {
	return m.rule
}

// Get returns the position for (symbol, direction), or nil.
func (m *Manager) Get(symbol string, dir Direction) *Position {
	return m.positions[Key{Symbol: symbol, Direction: dir}]
}

// All returns every position in insertion order.
func (m *Manager) All() []*Position {
	out := make([]*Position, 0, len(m.positions))
	for _, key := range m.order {
		if pos, ok := m.positions[key]; ok {
			out = append(out, pos)
		}
	}
	return out
}

// ByDirection returns every position on one side, in insertion order.
func (m *Manager) ByDirection(dir Direction) []*Position {
	var out []*Position
	for _, pos := range m.All() {
		if pos.Direction == dir {
			out = append(out, pos)
		}
	}
	return out
}

func (m *Manager) ensure(symbol, name string, dir Direction, dt time.Time) *Position {
	key := Key{Symbol: symbol, Direction: dir}
	if pos, ok := m.positions[key]; ok {
		return pos
	}
	pos := newPosition(symbol, name, dir, m.marginRate, m.rule, dt)
	m.positions[key] = pos
	m.order = append(m.order, key)
	return pos
}

func (m *Manager) remove(key Key) {
	delete(m.positions, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ProcessTrade applies one fill to the book: close the opposite side first,
// then open or add on the same side. Returns the realized PnL of the closed
// portion. The whole routine either applies in full or returns an error with
// the book untouched; sufficiency is the matching engine's gate, so a failure
// here is a broken precondition, not a trading outcome.
func (m *Manager) ProcessTrade(symbol, name string, buy bool, amount int64, price float64, dt time.Time, mode TradingMode) (float64, error) {
	realized := 0.0
	remaining := amount

	if buy {
		if short := m.Get(symbol, DirectionShort); short != nil && short.Total > 0 {
			closable := short.Available
			if m.rule != RuleT1 {
				closable = short.Total
			}
			cover := min64(remaining, closable)
			if cover > 0 {
				pnl, err := short.Close(cover, price, dt)
				if err != nil {
					return realized, err
				}
				realized += pnl
				remaining -= cover
				if short.Total == 0 {
					m.remove(Key{Symbol: symbol, Direction: DirectionShort})
				}
			}
		}
		if remaining > 0 {
			m.ensure(symbol, name, DirectionLong, dt).Open(remaining, price, dt)
		}
		return realized, nil
	}

	if mode != ModeLongShort {
		closable := int64(0)
		if long := m.Get(symbol, DirectionLong); long != nil {
			closable = long.Available
		}
		if remaining > closable {
			return realized, ErrShortNotAllowed
		}
	}
	if long := m.Get(symbol, DirectionLong); long != nil && long.Total > 0 {
		sell := min64(remaining, long.Available)
		if sell > 0 {
			pnl, err := long.Close(sell, price, dt)
			if err != nil {
				return realized, err
			}
			realized += pnl
			remaining -= sell
			if long.Total == 0 {
				m.remove(Key{Symbol: symbol, Direction: DirectionLong})
			}
		}
	}
	if remaining > 0 {
		if mode != ModeLongShort {
			return realized, ErrShortNotAllowed
		}
		m.ensure(symbol, name, DirectionShort, dt).Open(remaining, price, dt)
	}
	return realized, nil
}

// Adjust sets a position slot to an absolute target, creating or removing the
// slot as needed. Adjusted positions are treated as fully available.
func (m *Manager) Adjust(symbol, name string, dir Direction, amount int64, avgCost float64, dt time.Time) {
	key := Key{Symbol: symbol, Direction: dir}
	if amount <= 0 {
		if _, ok := m.positions[key]; ok {
			m.remove(key)
		}
		return
	}
	pos := m.ensure(symbol, name, dir, dt)
	pos.Total = amount
	pos.AvgCost = avgCost
	pos.Available = amount
	pos.TodayOpen = 0
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = avgCost
	}
	if pos.LastSettlePrice == 0 {
		pos.LastSettlePrice = avgCost
	}
	pos.UpdateTime = dt
	logs.Infof("position adjusted: %s (%s) amount=%d cost=%.4f", symbol, dir, amount, avgCost)
}

// RecordSnapshot stores one day's settlement rows, replacing any existing
// snapshot for the same date.
func (m *Manager) RecordSnapshot(date string, entries []DailyPosition) {
	kept := m.snapshots[:0:0]
	for _, s := range m.snapshots {
		if s.Date != date {
			kept = append(kept, s)
		}
	}
	kept = append(kept, DailySnapshot{Date: date, Positions: entries})
	sort.Slice(kept, func(i, j int) bool { return kept[i].Date < kept[j].Date })
	m.snapshots = kept
}

// Snapshots returns the recorded daily snapshots in date order.
func (m *Manager) Snapshots() []DailySnapshot {
	return m.snapshots
}

// SnapshotBefore returns the latest snapshot strictly before date, or nil.
func (m *Manager) SnapshotBefore(date string) *DailySnapshot {
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].Date < date {
			return &m.snapshots[i]
		}
	}
	return nil
}

// Restore replaces the current book with the given positions.
func (m *Manager) Restore(positions []*Position) {
	m.positions = make(map[Key]*Position, len(positions))
	m.order = m.order[:0]
	for _, pos := range positions {
		key := Key{Symbol: pos.Symbol, Direction: pos.Direction}
		m.positions[key] = pos
		m.order = append(m.order, key)
	}
}

// RestoreSnapshots replaces the daily snapshot history.
func (m *Manager) RestoreSnapshots(snapshots []DailySnapshot) {
	m.snapshots = append(m.snapshots[:0:0], snapshots...)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
