package engine

import (
	"time"

	"qtrader/internal/account"
	"qtrader/internal/snapshot"
)

// PositionView is the monitor-facing view of one position slot.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Direction     string  `json:"direction"`
	Total         int64   `json:"total"`
	Available     int64   `json:"available"`
	AvgCost       float64 `json:"avgCost"`
	CurrentPrice  float64 `json:"currentPrice"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// OrderView is the monitor-facing view of one open order.
type OrderView struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Amount     int64   `json:"amount"`
	LimitPrice float64 `json:"limitPrice,omitempty"`
	Status     string  `json:"status"`
}

// StateSnapshot is an immutable copy of the run state handed to the
// monitoring server. It is built under the context read lock and carries no
// references into the live components.
type StateSnapshot struct {
	Mode         string    `json:"mode"`
	StrategyName string    `json:"strategyName"`
	Status       string    `json:"status"`
	Phase        string    `json:"phase"`
	CurrentDT    time.Time `json:"currentDt"`

	NetWorth      float64 `json:"netWorth"`
	Cash          float64 `json:"cash"`
	AvailableCash float64 `json:"availableCash"`
	Margin        float64 `json:"margin"`
	LongValue     float64 `json:"longValue"`
	ShortValue    float64 `json:"shortValue"`
	Returns       float64 `json:"returns"`

	Positions  []PositionView        `json:"positions"`
	OpenOrders []OrderView           `json:"openOrders"`
	Equity     []account.EquityPoint `json:"equity"`
	Intraday   []IntradaySample      `json:"intraday"`
}

// RunStatus derives the envelope status for the current flags.
func (c *Context) RunStatus() snapshot.RunStatus {
	switch {
	case c.paused:
		return snapshot.StatusPaused
	case c.interrupted:
		return snapshot.StatusInterrupted
	case c.running:
		return snapshot.StatusRunning
	default:
		return snapshot.StatusFinished
	}
}

// Snapshot copies the run state out under the read lock.
func (c *Context) Snapshot() StateSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := StateSnapshot{
		Mode:          string(c.Mode),
		StrategyName:  c.StrategyName,
		Status:        string(c.RunStatus()),
		Phase:         string(c.phase),
		CurrentDT:     c.currentDT,
		NetWorth:      c.Portfolio.NetWorth,
		Cash:          c.Portfolio.Cash,
		AvailableCash: c.Portfolio.AvailableCash(),
		Margin:        c.Portfolio.Margin,
		LongValue:     c.Portfolio.LongValue,
		ShortValue:    c.Portfolio.ShortValue,
		Returns:       c.Portfolio.Returns(),
		Equity:        append([]account.EquityPoint(nil), c.Portfolio.History...),
		Intraday:      append([]IntradaySample(nil), c.intraday...),
	}
	for _, pos := range c.Positions.All() {
		snap.Positions = append(snap.Positions, PositionView{
			Symbol:        pos.Symbol,
			Name:          pos.Name,
			Direction:     pos.Direction.String(),
			Total:         pos.Total,
			Available:     pos.Available,
			AvgCost:       pos.AvgCost,
			CurrentPrice:  pos.CurrentPrice,
			MarketValue:   pos.MarketValue(),
			UnrealizedPnL: pos.UnrealizedPnL(),
		})
	}
	for _, o := range c.Orders.Open() {
		snap.OpenOrders = append(snap.OpenOrders, OrderView{
			ID:         o.ID,
			Symbol:     o.Symbol,
			Side:       o.Side.String(),
			Type:       o.Type.String(),
			Amount:     o.Amount,
			LimitPrice: o.LimitPrice,
			Status:     o.Status.String(),
		})
	}
	return snap
}

// notify pushes the current state to the registered listener, if any.
func (c *Context) notify() {
	if c.listener == nil {
		return
	}
	c.listener.OnState(c.Snapshot())
}
