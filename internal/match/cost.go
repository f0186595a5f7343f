package match

import (
	"qtrader/internal/config"
	"qtrader/internal/order"
)

// Commission computes the fee of a fill: the side's commission rate on the
// notional, floored at the minimum, plus the side's tax on the notional. The
// minimum applies to the commission only, never to the tax.
type Commission struct {
	cfg config.CommissionConfig
}

// NewCommission creates a calculator from the configured schedule.
func NewCommission(cfg config.CommissionConfig) Commission {
	return Commission{cfg: cfg}
}

// Calculate returns the total fee for a fill of amount at price.
func (c Commission) Calculate(side order.Side, amount int64, price float64) float64 {
	notional := price * float64(amount)
	var commission, tax float64
	if side == order.SideBuy {
		commission = notional * c.cfg.BuyCommission
		tax = notional * c.cfg.BuyTax
	} else {
		commission = notional * c.cfg.SellCommission
		tax = notional * c.cfg.SellTax
	}
	if commission < c.cfg.MinCommission {
		commission = c.cfg.MinCommission
	}
	return commission + tax
}

// Slippage is the fixed-rate slippage model: fills move against the taker.
type Slippage struct {
	rate float64
}

// NewSlippage creates a fixed-rate model.
func NewSlippage(cfg config.SlippageConfig) Slippage {
	return Slippage{rate: cfg.Rate}
}

// Apply shifts price against the given side.
func (s Slippage) Apply(side order.Side, price float64) float64 {
	if side == order.SideBuy {
		return price * (1 + s.rate)
	}
	return price * (1 - s.rate)
}
