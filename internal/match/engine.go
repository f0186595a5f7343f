package match

import (
	"fmt"
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/account"
	"qtrader/internal/calendar"
	"qtrader/internal/config"
	"qtrader/internal/obs"
	"qtrader/internal/order"
	"qtrader/internal/provider"
)

const priceTolerance = 1e-6

// Engine simulates exchange matching against quoted prices. It drains the
// open order book on every pulse and runs the end-of-day settlement.
//
// Fresh orders match against the quote of their creation instant; an order
// that survives its bar rests and is re-evaluated against each later bar.
type Engine struct {
	provider  provider.Provider
	orders    *order.Manager
	portfolio *account.Portfolio
	positions *account.Manager

	commission Commission
	slippage   Slippage

	mode       account.TradingMode
	marginRate float64

	infoCache map[string]*provider.SymbolInfo
	metrics   *obs.Metrics
}

// NewEngine wires a matching engine over the account components.
func NewEngine(
	p provider.Provider,
	orders *order.Manager,
	portfolio *account.Portfolio,
	positions *account.Manager,
	matching config.MatchingConfig,
	acct config.AccountConfig,
	metrics *obs.Metrics,
) *Engine {
	return &Engine{
		provider:   p,
		orders:     orders,
		portfolio:  portfolio,
		positions:  positions,
		commission: NewCommission(matching.Commission),
		slippage:   NewSlippage(matching.Slippage),
		mode:       acct.TradingMode,
		marginRate: acct.ShortMarginRate,
		infoCache:  make(map[string]*provider.SymbolInfo),
	}
}

// ClearDailyCache drops the per-day symbol info cache. Call at day start.
func (e *Engine) ClearDailyCache() {
	e.infoCache = make(map[string]*provider.SymbolInfo)
}

// MatchOrders drains the open book at dt: fresh orders first, against their
// creation quote, then resting limit orders against the current bar.
func (e *Engine) MatchOrders(dt time.Time) {
	open := e.orders.Open()
	resting := make([]*order.Order, 0, len(open))
	for _, o := range open {
		if !o.Immediate {
			resting = append(resting, o)
		}
	}
	for _, o := range open {
		if o.Status == order.StatusOpen && o.Immediate {
			e.tryMatchImmediate(o)
		}
	}
	for _, o := range resting {
		if o.Status == order.StatusOpen {
			e.tryMatchResting(o, dt)
		}
	}
}

func (e *Engine) symbolInfo(symbol string, dt time.Time) *provider.SymbolInfo {
	if info, ok := e.infoCache[symbol]; ok {
		return info
	}
	info := e.provider.SymbolInfo(symbol, dt.Format(calendar.DateLayout))
	if info != nil {
		e.infoCache[symbol] = info
	}
	return info
}

func (e *Engine) tryMatchImmediate(o *order.Order) {
	// A fresh order must match against the quote of the instant it was
	// created, never a later print.
	at := o.CreatedTime
	quote := e.provider.CurrentPrice(o.Symbol, at)
	if quote == nil || quote.Price == 0 {
		o.MarkResting()
		return
	}
	info := e.symbolInfo(o.Symbol, at)
	if info == nil {
		e.reject(o, fmt.Sprintf("no symbol info for %s", o.Symbol))
		return
	}
	if o.SymbolName == "" {
		o.SymbolName = info.Name
	}

	if !e.preCheck(o, quote, info) {
		return
	}

	price, ok := e.immediatePrice(o, quote)
	if !ok {
		o.MarkResting()
		return
	}
	e.executeMatch(o, price, quote, at)
}

func (e *Engine) tryMatchResting(o *order.Order, dt time.Time) {
	quote := e.provider.CurrentPrice(o.Symbol, dt)
	if quote == nil || quote.Price == 0 {
		return
	}
	if info := e.symbolInfo(o.Symbol, dt); info != nil && info.Suspended {
		return
	}

	current := quote.Price
	var price float64
	switch {
	case o.Type == order.TypeMarket:
		price = current
	case o.Side == order.SideBuy && current <= o.LimitPrice:
		// Filling at the limit, not the touch, avoids look-ahead from
		// cross-bar prints.
		price = o.LimitPrice
	case o.Side == order.SideSell && current >= o.LimitPrice:
		price = o.LimitPrice
	default:
		return
	}
	e.executeMatch(o, price, quote, dt)
}

// immediatePrice selects the fill price for a fresh order, or reports that it
// must rest.
func (e *Engine) immediatePrice(o *order.Order, quote *provider.Quote) (float64, bool) {
	market := quote.Price
	if o.Side == order.SideBuy && quote.Ask1 > 0 {
		market = quote.Ask1
	}
	if o.Side == order.SideSell && quote.Bid1 > 0 {
		market = quote.Bid1
	}

	if o.Type == order.TypeMarket {
		return market, true
	}
	if o.Side == order.SideBuy && o.LimitPrice >= market {
		return market, true
	}
	if o.Side == order.SideSell && o.LimitPrice <= market {
		return market, true
	}
	return 0, false
}

// preCheck applies the market-rule gate for fresh orders: suspension and
// touching the price limit reject outright.
func (e *Engine) preCheck(o *order.Order, quote *provider.Quote, info *provider.SymbolInfo) bool {
	if info.Suspended {
		e.reject(o, fmt.Sprintf("%s is suspended", o.Symbol))
		return false
	}
	if o.Side == order.SideBuy && quote.HighLimit > 0 && abs(quote.Price-quote.HighLimit) < priceTolerance {
		e.reject(o, fmt.Sprintf("%s is at the high limit", o.Symbol))
		return false
	}
	if o.Side == order.SideSell && quote.LowLimit > 0 && abs(quote.Price-quote.LowLimit) < priceTolerance {
		e.reject(o, fmt.Sprintf("%s is at the low limit", o.Symbol))
		return false
	}
	return true
}

func (e *Engine) executeMatch(o *order.Order, matchPrice float64, quote *provider.Quote, dt time.Time) {
	price := e.slippage.Apply(o.Side, matchPrice)

	if !withinLimits(price, quote) {
		e.reject(o, fmt.Sprintf("price %.4f outside the limit band after slippage", price))
		return
	}

	commission := e.commission.Calculate(o.Side, o.Amount, price)

	if reason, ok := e.checkSufficiency(o, price, commission); !ok {
		e.reject(o, reason)
		return
	}

	e.finalizeTrade(o, price, commission, dt)
}

func withinLimits(price float64, quote *provider.Quote) bool {
	if quote.HighLimit > 0 && quote.LowLimit > 0 {
		return quote.LowLimit-priceTolerance <= price && price <= quote.HighLimit+priceTolerance
	}
	return true
}

// checkSufficiency is the account-risk gate, evaluated before any mutation.
func (e *Engine) checkSufficiency(o *order.Order, price, commission float64) (string, bool) {
	if o.Side == order.SideBuy {
		cashNeeded := price*float64(o.Amount) + commission

		marginReleased := 0.0
		if short := e.positions.Get(o.Symbol, account.DirectionShort); short != nil && short.Total > 0 {
			coverable := short.Available
			if e.positions.Rule() != account.RuleT1 {
				coverable = short.Total
			}
			if o.Amount > coverable {
				return fmt.Sprintf("short cover limited by T+1 (available %d, requested %d)", coverable, o.Amount), false
			}
			marginReleased = short.Margin() / float64(short.Total) * float64(o.Amount)
		}

		buyingPower := e.portfolio.AvailableCash() + marginReleased
		if buyingPower < cashNeeded {
			return fmt.Sprintf("insufficient buying power (need %.2f, have %.2f)", cashNeeded, buyingPower), false
		}
		return "", true
	}

	availableLong := int64(0)
	if long := e.positions.Get(o.Symbol, account.DirectionLong); long != nil && long.Total > 0 {
		availableLong = long.Available
	}
	if o.Amount <= availableLong {
		return "", true
	}

	shortAmount := o.Amount - availableLong
	if e.mode == account.ModeLongShort {
		marginNeeded := price * float64(shortAmount) * e.marginRate
		if e.portfolio.AvailableCash() >= marginNeeded {
			return "", true
		}
		return fmt.Sprintf("insufficient margin to open short (need %.2f, have %.2f)", marginNeeded, e.portfolio.AvailableCash()), false
	}
	return fmt.Sprintf("insufficient position (sell %d, available %d)", o.Amount, availableLong), false
}

func (e *Engine) finalizeTrade(o *order.Order, price, commission float64, dt time.Time) {
	if err := o.Fill(price, commission, dt); err != nil {
		logs.Errorf("fill order %s: %+v", o.ID, err)
		return
	}
	e.orders.AddToHistory(o)

	gross := price * float64(o.Amount)
	realized, err := e.positions.ProcessTrade(o.Symbol, o.SymbolName, o.Side == order.SideBuy, o.Amount, price, dt, e.mode)
	if err != nil {
		// The sufficiency gate should make this unreachable.
		logs.Errorf("process trade for %s: %+v", o.ID, err)
	}

	if o.Side == order.SideBuy {
		e.portfolio.Cash -= gross + commission
	} else {
		e.portfolio.Cash += gross - commission
	}
	e.portfolio.UpdateFinancials(e.positions)
	e.metrics.IncOrderFilled()

	if realized != 0 {
		logs.Infof("filled [%s] %s amount=%d price=%.4f realized=%.2f", o.Side, o.Symbol, o.Amount, price, realized-commission)
	} else {
		logs.Infof("filled [%s] %s amount=%d price=%.4f", o.Side, o.Symbol, o.Amount, price)
	}
}

func (e *Engine) reject(o *order.Order, reason string) {
	logs.Warnf("order %s (%s %d %s) rejected: %s", o.ID, o.Side, o.Amount, o.Symbol, reason)
	o.Reject(reason)
	e.metrics.IncOrderRejected()
}

// MarkToMarket refreshes every position to the quote at dt and recomputes the
// portfolio financials. Positions with no quote keep their last mark.
func (e *Engine) MarkToMarket(dt time.Time) {
	for _, pos := range e.positions.All() {
		if quote := e.provider.CurrentPrice(pos.Symbol, dt); quote != nil && quote.Price > 0 {
			pos.UpdatePrice(quote.Price)
		}
	}
	e.portfolio.UpdateFinancials(e.positions)
}

// Settle runs the end-of-day settlement: mark every position to the closing
// price, snapshot the day, roll T+1 availability and reset the order book.
func (e *Engine) Settle(dt time.Time) {
	logs.Info("daily settlement started")
	date := dt.Format(calendar.DateLayout)

	var entries []account.DailyPosition
	for _, pos := range e.positions.All() {
		quote := e.provider.CurrentPrice(pos.Symbol, dt)
		if quote != nil && quote.Price > 0 {
			if entry := pos.SettleDay(quote.Price, date); entry != nil {
				entries = append(entries, *entry)
			}
		} else {
			logs.Warnf("no closing price for %s on %s", pos.Symbol, date)
		}
		if e.positions.Rule() == account.RuleT1 {
			pos.SettleT1()
		}
	}

	e.positions.RecordSnapshot(date, entries)
	e.portfolio.RecordHistory(date, e.positions)
	e.orders.Reset()
	e.metrics.IncSettleDay()
	logs.Infof("settlement done, net worth %.2f", e.portfolio.NetWorth)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
