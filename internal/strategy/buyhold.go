package strategy

import (
	"qtrader/internal/engine"
	"qtrader/internal/order"
)

func init() {
	Register("buy_and_hold", func() engine.Strategy { return &BuyAndHold{} })
}

// BuyAndHold buys one symbol on the first bar and holds it. It doubles as a
// smoke-test strategy for the engine.
type BuyAndHold struct {
	Base
	Symbol string
	Amount int64
}

func (s *BuyAndHold) Initialize(ctx *engine.Context) error {
	if s.Symbol == "" {
		s.Symbol = "000001.SZ"
	}
	if s.Amount == 0 {
		s.Amount = 100
	}
	ctx.Set("bought", false)
	return nil
}

func (s *BuyAndHold) HandleBar(ctx *engine.Context) error {
	if bought, _ := ctx.Get("bought"); bought == true {
		return nil
	}
	if _, err := ctx.SubmitOrder(s.Symbol, s.Amount, order.TypeMarket, 0); err != nil {
		return err
	}
	ctx.Set("bought", true)
	return nil
}
