package account

// EquityPoint is one day of the portfolio's equity history.
type EquityPoint struct {
	Date          string  `json:"date"`
	NetWorth      float64 `json:"netWorth"`
	TotalAssets   float64 `json:"totalAssets"`
	Cash          float64 `json:"cash"`
	Margin        float64 `json:"margin"`
	AvailableCash float64 `json:"availableCash"`
	LongValue     float64 `json:"longValue"`
	ShortValue    float64 `json:"shortValue"`
	NetValue      float64 `json:"netValue"`
	Returns       float64 `json:"returns"`
}

// Portfolio is the account's financial state machine: cash, reserved margin
// and the derived market-value aggregates, plus the ordered daily history.
type Portfolio struct {
	InitialCash float64 `json:"initialCash"`
	Cash        float64 `json:"cash"`
	Margin      float64 `json:"margin"`

	NetWorth    float64 `json:"netWorth"`
	NetValue    float64 `json:"netValue"`
	LongValue   float64 `json:"longValue"`
	ShortValue  float64 `json:"shortValue"` // liability, recorded positive
	TotalAssets float64 `json:"totalAssets"`

	History []EquityPoint `json:"history"`
}

// NewPortfolio creates a portfolio holding only cash.
func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		InitialCash: initialCash,
		Cash:        initialCash,
		NetWorth:    initialCash,
		TotalAssets: initialCash,
	}
}

// AvailableCash is the cash not reserved as margin.
func (p *Portfolio) AvailableCash() float64 {
	return p.Cash - p.Margin
}

// Returns is the cumulative return on net worth.
func (p *Portfolio) Returns() float64 {
	if p.InitialCash == 0 {
		return 0
	}
	return (p.NetWorth - p.InitialCash) / p.InitialCash
}

// UpdateFinancials recomputes margin, market values and net worth from the
// current book. Call after every cash or position mutation.
func (p *Portfolio) UpdateFinancials(pm *Manager) {
	margin := 0.0
	longValue := 0.0
	shortValue := 0.0
	for _, pos := range pm.All() {
		margin += pos.Margin()
		if pos.Direction == DirectionLong {
			longValue += pos.MarketValue()
		} else {
			mv := pos.MarketValue()
			if mv < 0 {
				mv = -mv
			}
			shortValue += mv
		}
	}
	p.Margin = margin
	p.LongValue = longValue
	p.ShortValue = shortValue
	p.NetValue = longValue - shortValue
	p.TotalAssets = p.Cash + longValue
	p.NetWorth = p.Cash + p.NetValue
}

// RecordHistory refreshes the financials and appends the day's equity point.
func (p *Portfolio) RecordHistory(date string, pm *Manager) {
	p.UpdateFinancials(pm)
	p.History = append(p.History, EquityPoint{
		Date:          date,
		NetWorth:      p.NetWorth,
		TotalAssets:   p.TotalAssets,
		Cash:          p.Cash,
		Margin:        p.Margin,
		AvailableCash: p.AvailableCash(),
		LongValue:     p.LongValue,
		ShortValue:    p.ShortValue,
		NetValue:      p.NetValue,
		Returns:       p.Returns(),
	})
}

// TruncateHistory drops history entries at or after date.
func (p *Portfolio) TruncateHistory(date string) {
	kept := p.History[:0:0]
	for _, h := range p.History {
		if h.Date < date {
			kept = append(kept, h)
		}
	}
	p.History = kept
}
