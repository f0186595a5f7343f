package order

import (
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	ErrZeroAmount   = errors.New("order amount is zero")
	ErrBelowLotSize = errors.New("order amount below lot size")
	ErrMissingLimit = errors.New("limit order requires a positive price")
	ErrUnknownOrder = errors.New("order not found")
)

// Manager owns the two order containers: today's book (every order submitted
// since the last daily reset, in submission order) and the append-only filled
// history that survives across days. The split is load-bearing for fork.
type Manager struct {
	seq     uint64
	today   []*Order
	byID    map[string]*Order
	history []*Order

	lotSize int64
}

// NewManager creates an order manager with the given lot size.
func NewManager(lotSize int64) *Manager {
	if lotSize < 1 {
		lotSize = 1
	}
	return &Manager{
		byID:    make(map[string]*Order),
		lotSize: lotSize,
	}
}

// Submit validates and books a new order. The sign of amount selects the
// side; the absolute value is rounded down to a lot multiple. A non-nil error
// means the order was rejected and not stored.
func (m *Manager) Submit(symbol, symbolName string, amount int64, typ Type, limitPrice float64, createdTime, barTime time.Time) (*Order, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if typ == TypeLimit && limitPrice <= 0 {
		return nil, ErrMissingLimit
	}

	side := SideBuy
	abs := amount
	if amount < 0 {
		side = SideSell
		abs = -amount
	}
	normalized := (abs / m.lotSize) * m.lotSize
	if normalized == 0 {
		return nil, errors.Wrap(ErrBelowLotSize, fmt.Sprintf("amount %d, lot %d", abs, m.lotSize))
	}
	if normalized != abs {
		logs.Infof("order amount adjusted from %d to %d by lot size %d", abs, normalized, m.lotSize)
	}

	m.seq++
	o := &Order{
		ID:             fmt.Sprintf("O-%06d", m.seq),
		Symbol:         symbol,
		SymbolName:     symbolName,
		Amount:         normalized,
		Side:           side,
		Type:           typ,
		LimitPrice:     limitPrice,
		Status:         StatusOpen,
		CreatedTime:    createdTime,
		CreatedBarTime: barTime,
		Immediate:      true,
	}
	m.today = append(m.today, o)
	m.byID[o.ID] = o

	priceTag := "Market"
	if typ == TypeLimit {
		priceTag = fmt.Sprintf("%.4f", limitPrice)
	}
	logs.Infof("order submitted: %s | %s %s %d @ %s", o.ID, side, symbol, normalized, priceTag)
	return o, nil
}

// Cancel cancels an open order by id.
func (m *Manager) Cancel(id string) bool {
	o, ok := m.byID[id]
	if !ok {
		logs.Warnf("cancel failed: order %s not found", id)
		return false
	}
	if !o.Cancel() {
		logs.Warnf("cancel failed: order %s is %s", id, o.Status)
		return false
	}
	logs.Infof("order cancelled: %s", id)
	return true
}

// Get returns today's order by id.
func (m *Manager) Get(id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return o, nil
}

// Open returns today's still-open orders in submission order.
func (m *Manager) Open() []*Order {
	var out []*Order
	for _, o := range m.today {
		if o.Status == StatusOpen {
			out = append(out, o)
		}
	}
	return out
}

// FilledToday returns today's filled orders in submission order.
func (m *Manager) FilledToday() []*Order {
	var out []*Order
	for _, o := range m.today {
		if o.Status == StatusFilled {
			out = append(out, o)
		}
	}
	return out
}

// AddToHistory appends a filled order to the durable history.
func (m *Manager) AddToHistory(o *Order) {
	m.history = append(m.history, o)
}

// History returns the filled-order history across all days.
func (m *Manager) History() []*Order {
	return m.history
}

// AllKnown returns the history plus today's orders, with today's entries
// taking precedence over a historical entry with the same id.
func (m *Manager) AllKnown() []*Order {
	out := make([]*Order, 0, len(m.history)+len(m.today))
	for _, o := range m.history {
		if _, ok := m.byID[o.ID]; ok {
			continue
		}
		out = append(out, o)
	}
	out = append(out, m.today...)
	return out
}

// Reset performs the daily reset: every still-open order expires and today's
// book is cleared. The filled history is untouched.
func (m *Manager) Reset() {
	for _, o := range m.today {
		o.Expire()
	}
	m.today = m.today[:0]
	m.byID = make(map[string]*Order)
}

// ExpireOpen expires every open order without clearing the book. Used by the
// simulation time sync, where stale orders cannot have survived reality.
func (m *Manager) ExpireOpen() {
	for _, o := range m.today {
		o.Expire()
	}
}

// Restore rebuilds the manager from a flat order list: filled orders join the
// history, everything else lands in today's book.
func (m *Manager) Restore(orders []*Order) {
	for _, o := range orders {
		if o.Status == StatusFilled {
			m.history = append(m.history, o)
			if seq := parseSeq(o.ID); seq > m.seq {
				m.seq = seq
			}
			continue
		}
		m.today = append(m.today, o)
		m.byID[o.ID] = o
		if seq := parseSeq(o.ID); seq > m.seq {
			m.seq = seq
		}
	}
}

func parseSeq(id string) uint64 {
	var seq uint64
	if _, err := fmt.Sscanf(id, "O-%d", &seq); err != nil {
		return 0
	}
	return seq
}
