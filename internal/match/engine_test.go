package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/account"
	"qtrader/internal/config"
	"qtrader/internal/order"
	"qtrader/internal/provider"
)

const symbol = "000001.SZ"

type fixture struct {
	provider  *provider.Memory
	orders    *order.Manager
	portfolio *account.Portfolio
	positions *account.Manager
	engine    *Engine
}

func newFixture(t *testing.T, mode account.TradingMode, rule account.TradingRule) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Account.TradingMode = mode
	cfg.Account.TradingRule = rule
	cfg.Matching.Commission = config.CommissionConfig{
		BuyCommission:  0.0002,
		SellCommission: 0.0002,
		SellTax:        0.001,
		MinCommission:  5,
	}

	p := provider.NewMemory()
	p.SetCalendar("2024-01-02", "2024-01-03")
	p.SetInfoAll(symbol, provider.SymbolInfo{Name: "Ping An"})

	orders := order.NewManager(1)
	portfolio := account.NewPortfolio(1_000_000)
	positions := account.NewManager(cfg.Account.ShortMarginRate, rule)
	engine := NewEngine(p, orders, portfolio, positions, cfg.Matching, cfg.Account, nil)
	return &fixture{provider: p, orders: orders, portfolio: portfolio, positions: positions, engine: engine}
}

func at(date, clock string) time.Time {
	dt, _ := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, time.Local)
	return dt
}

func (f *fixture) submit(t *testing.T, amount int64, typ order.Type, limit float64, dt time.Time) *order.Order {
	t.Helper()
	o, err := f.orders.Submit(symbol, "", amount, typ, limit, dt, dt)
	require.NoError(t, err)
	return o
}

// Long open then close across a T+1 boundary, with the documented commission
// schedule and zero slippage.
func TestLongRoundTrip(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	day1 := at("2024-01-02", "14:55:00")
	day2 := at("2024-01-03", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})
	f.provider.SetQuote(symbol, "2024-01-03", provider.Quote{Price: 11})

	buy := f.submit(t, 100, order.TypeMarket, 0, day1)
	f.engine.MatchOrders(day1)

	require.Equal(t, order.StatusFilled, buy.Status)
	assert.InDelta(t, 10.0, buy.FilledPrice, 1e-9)
	assert.InDelta(t, 5.0, buy.Commission, 1e-9) // max(5, 1000*0.0002)
	assert.InDelta(t, 998_995.0, f.portfolio.Cash, 1e-6)

	// Same-day sell is blocked by T+1.
	sameDay := f.submit(t, -100, order.TypeMarket, 0, day1)
	f.engine.MatchOrders(day1)
	assert.Equal(t, order.StatusRejected, sameDay.Status)

	f.engine.Settle(at("2024-01-02", "15:30:00"))

	sell := f.submit(t, -100, order.TypeMarket, 0, day2)
	f.engine.MatchOrders(day2)

	require.Equal(t, order.StatusFilled, sell.Status)
	assert.InDelta(t, 11.0, sell.FilledPrice, 1e-9)
	assert.InDelta(t, 6.10, sell.Commission, 1e-9) // max(5, 1100*0.0002) + 1100*0.001
	assert.InDelta(t, 1_000_088.90, f.portfolio.Cash, 1e-6)
	assert.InDelta(t, 1_000_088.90, f.portfolio.NetWorth, 1e-6)
	assert.Empty(t, f.positions.All())
}

// Short sales are rejected outright in a long-only account.
func TestShortRejectedUnderLongOnly(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	dt := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})

	o := f.submit(t, -100, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	assert.Equal(t, order.StatusRejected, o.Status)
	assert.InDelta(t, 1_000_000.0, f.portfolio.Cash, 1e-9)
	assert.Empty(t, f.positions.All())
}

// A limit buy below the ask rests, then fills at its limit price once the
// market trades through it.
func TestLimitRestsThenFillsAtLimit(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	bar1 := at("2024-01-02", "09:31:00")
	bar2 := at("2024-01-02", "09:32:00")
	f.provider.SetIntraday(symbol, "2024-01-02",
		provider.Slice{At: "09:31:00", Quote: provider.Quote{Price: 10.00, Ask1: 10.05}},
		provider.Slice{At: "09:32:00", Quote: provider.Quote{Price: 9.88}},
	)

	o := f.submit(t, 100, order.TypeLimit, 9.90, bar1)
	f.engine.MatchOrders(bar1)
	assert.Equal(t, order.StatusOpen, o.Status)
	assert.False(t, o.Immediate)

	f.engine.MatchOrders(bar2)
	require.Equal(t, order.StatusFilled, o.Status)
	assert.InDelta(t, 9.90, o.FilledPrice, 1e-9) // the limit, not the touch
	assert.InDelta(t, 5.0, o.Commission, 1e-9)
}

// A marketable limit fills immediately at the ask.
func TestMarketableLimitFillsAtAsk(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	dt := at("2024-01-02", "09:31:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10.00, Ask1: 10.05})

	o := f.submit(t, 100, order.TypeLimit, 10.10, dt)
	f.engine.MatchOrders(dt)

	require.Equal(t, order.StatusFilled, o.Status)
	assert.InDelta(t, 10.05, o.FilledPrice, 1e-9)
}

// Orders on a suspended symbol are rejected for the day.
func TestSuspendedSymbolRejects(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	dt := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})
	f.provider.SetInfo(symbol, "2024-01-02", provider.SymbolInfo{Name: "Ping An", Suspended: true})

	o := f.submit(t, 100, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	assert.Equal(t, order.StatusRejected, o.Status)
	assert.InDelta(t, 1_000_000.0, f.portfolio.Cash, 1e-9)
}

// A missing quote defers the order instead of rejecting it.
func TestMissingQuoteDefers(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	dt := at("2024-01-02", "14:55:00")

	o := f.submit(t, 100, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	assert.Equal(t, order.StatusOpen, o.Status)
	assert.False(t, o.Immediate)
}

// Slippage moves the fill against the taker on both sides.
func TestSlippageAppliesPerSide(t *testing.T) {
	f := newFixture(t, account.ModeLongShort, account.RuleT0)
	f.engine.slippage = NewSlippage(config.SlippageConfig{Rate: 0.01})
	dt := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})

	buy := f.submit(t, 100, order.TypeMarket, 0, dt)
	sell := f.submit(t, -50, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	require.Equal(t, order.StatusFilled, buy.Status)
	require.Equal(t, order.StatusFilled, sell.Status)
	assert.InDelta(t, 10.10, buy.FilledPrice, 1e-9)
	assert.InDelta(t, 9.90, sell.FilledPrice, 1e-9)
}

// A fill pushed outside the limit band by slippage is rejected.
func TestSlippageBeyondLimitBandRejects(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	f.engine.slippage = NewSlippage(config.SlippageConfig{Rate: 0.05})
	dt := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10, HighLimit: 10.2, LowLimit: 9.0})

	o := f.submit(t, 100, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	assert.Equal(t, order.StatusRejected, o.Status)
}

// Insufficient cash rejects the buy before any state mutates.
func TestInsufficientCashRejects(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	dt := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})
	f.portfolio.Cash = 500

	o := f.submit(t, 100, order.TypeMarket, 0, dt)
	f.engine.MatchOrders(dt)

	assert.Equal(t, order.StatusRejected, o.Status)
	assert.InDelta(t, 500.0, f.portfolio.Cash, 1e-9)
	assert.Empty(t, f.positions.All())
}

// Settlement marks to close, snapshots the day and resets the book.
func TestSettleMarksAndResets(t *testing.T) {
	f := newFixture(t, account.ModeLongOnly, account.RuleT1)
	bar := at("2024-01-02", "14:55:00")
	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10})

	buy := f.submit(t, 100, order.TypeMarket, 0, bar)
	resting := f.submit(t, 100, order.TypeLimit, 9.0, bar)
	f.engine.MatchOrders(bar)
	require.Equal(t, order.StatusFilled, buy.Status)
	require.Equal(t, order.StatusOpen, resting.Status)

	f.provider.SetQuote(symbol, "2024-01-02", provider.Quote{Price: 10.5})
	f.engine.Settle(at("2024-01-02", "15:30:00"))

	assert.Equal(t, order.StatusExpired, resting.Status)
	assert.Empty(t, f.orders.Open())

	require.Len(t, f.portfolio.History, 1)
	h := f.portfolio.History[0]
	assert.Equal(t, "2024-01-02", h.Date)
	assert.InDelta(t, 998_995.0+1050.0, h.NetWorth, 1e-6)

	snaps := f.positions.Snapshots()
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Positions, 1)
	assert.InDelta(t, 10.5, snaps[0].Positions[0].ClosePrice, 1e-9)

	pos := f.positions.Get(symbol, account.DirectionLong)
	require.NotNil(t, pos)
	assert.Equal(t, int64(100), pos.Available)
	assert.Equal(t, int64(0), pos.TodayOpen)
}
