package account

import (
	"time"

	"github.com/yanun0323/errors"
)

// Direction distinguishes the two sides of the unified position book.
type Direction uint8

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionShort {
		return "short"
	}
	return "long"
}

// MarshalJSON encodes the direction as its name.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a direction name.
func (d *Direction) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"short"`:
		*d = DirectionShort
	case `"long"`:
		*d = DirectionLong
	default:
		return errors.Errorf("unknown direction: %s", data)
	}
	return nil
}

// TradingRule selects when newly opened shares become sellable.
type TradingRule string

const (
	RuleT1 TradingRule = "T+1"
	RuleT0 TradingRule = "T+0"
)

var ErrCloseExceedsTotal = errors.New("close amount exceeds position total")

// Position is a single (symbol, direction) slot of the book.
//
// Total is always non-negative; the sign lives in Direction. Under T+1,
// Available+TodayOpen == Total at all times.
type Position struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name,omitempty"`
	Direction Direction `json:"direction"`

	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	TodayOpen int64 `json:"todayOpen"`

	AvgCost         float64     `json:"avgCost"`
	CurrentPrice    float64     `json:"currentPrice"`
	LastSettlePrice float64     `json:"lastSettlePrice"`
	MarginRate      float64     `json:"marginRate"`
	Rule            TradingRule `json:"rule"`

	InitTime   time.Time `json:"initTime"`
	UpdateTime time.Time `json:"updateTime"`
}

func newPosition(symbol, name string, dir Direction, marginRate float64, rule TradingRule, dt time.Time) *Position {
	return &Position{
		Symbol:     symbol,
		Name:       name,
		Direction:  dir,
		MarginRate: marginRate,
		Rule:       rule,
		InitTime:   dt,
		UpdateTime: dt,
	}
}

func (p *Position) sign() float64 {
	if p.Direction == DirectionShort {
		return -1
	}
	return 1
}

// MarketValue returns the signed market value; short positions are negative.
func (p *Position) MarketValue() float64 {
	return p.sign() * float64(p.Total) * p.CurrentPrice
}

// UnrealizedPnL returns the floating profit at the current price.
func (p *Position) UnrealizedPnL() float64 {
	return p.sign() * (p.CurrentPrice - p.AvgCost) * float64(p.Total)
}

// Margin returns the margin this position reserves. Long positions carry none.
func (p *Position) Margin() float64 {
	if p.Direction != DirectionShort {
		return 0
	}
	return float64(p.Total) * p.CurrentPrice * p.MarginRate
}

// UpdatePrice marks the position to price.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = price
}

// Open adds amount at price, re-averaging the cost basis.
func (p *Position) Open(amount int64, price float64, dt time.Time) {
	totalCost := p.AvgCost*float64(p.Total) + price*float64(amount)
	p.Total += amount
	if p.Total > 0 {
		p.AvgCost = totalCost / float64(p.Total)
	} else {
		p.AvgCost = 0
	}
	p.TodayOpen += amount
	if p.Rule == RuleT0 {
		p.Available += amount
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = price
	}
	if p.LastSettlePrice == 0 {
		p.LastSettlePrice = price
	}
	p.UpdateTime = dt
}

// Close removes amount at price and returns the realized PnL of the closed
// portion.
func (p *Position) Close(amount int64, price float64, dt time.Time) (float64, error) {
	if amount > p.Total {
		return 0, ErrCloseExceedsTotal
	}
	pnl := p.sign() * (price - p.AvgCost) * float64(amount)
	p.Total -= amount
	p.Available -= amount
	if p.Available < 0 {
		p.Available = 0
	}
	if p.Total == 0 {
		p.TodayOpen = 0
	}
	p.UpdateTime = dt
	return pnl, nil
}

// SettleT1 rolls today's opens into tomorrow's availability.
func (p *Position) SettleT1() {
	p.Available += p.TodayOpen
	p.TodayOpen = 0
}

// DailyPosition is one row of a day's position snapshot.
type DailyPosition struct {
	Date          string  `json:"date"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Direction     string  `json:"direction"`
	Amount        int64   `json:"amount"`
	AvgCost       float64 `json:"avgCost"`
	ClosePrice    float64 `json:"closePrice"`
	MarketValue   float64 `json:"marketValue"`
	DailyPnL      float64 `json:"dailyPnl"`
	DailyPnLRatio float64 `json:"dailyPnlRatio"`
}

// SettleDay marks the position to the close price, computes the day PnL
// against the previous settle price and returns the snapshot row. An empty
// position only refreshes its marks and returns nil.
func (p *Position) SettleDay(closePrice float64, date string) *DailyPosition {
	if p.Total == 0 {
		p.LastSettlePrice = closePrice
		p.UpdatePrice(closePrice)
		return nil
	}

	prev := p.LastSettlePrice
	if prev == 0 {
		prev = closePrice
	}
	dailyPnL := p.sign() * (closePrice - prev) * float64(p.Total)
	p.LastSettlePrice = closePrice
	p.UpdatePrice(closePrice)

	base := p.AvgCost * float64(p.Total)
	if base < 0 {
		base = -base
	}
	ratio := 0.0
	if base > 0 {
		ratio = dailyPnL / base
	}

	return &DailyPosition{
		Date:          date,
		Symbol:        p.Symbol,
		Name:          p.Name,
		Direction:     p.Direction.String(),
		Amount:        p.Total,
		AvgCost:       p.AvgCost,
		ClosePrice:    closePrice,
		MarketValue:   p.MarketValue(),
		DailyPnL:      dailyPnL,
		DailyPnLRatio: ratio,
	}
}
