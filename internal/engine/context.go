package engine

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/account"
	"qtrader/internal/benchmark"
	"qtrader/internal/calendar"
	"qtrader/internal/config"
	"qtrader/internal/obs"
	"qtrader/internal/order"
	"qtrader/internal/provider"
)

// Phase is the market phase the scheduler derives from the clock.
type Phase string

const (
	PhaseClosed        Phase = "CLOSED"
	PhaseBeforeTrading Phase = "BEFORE_TRADING"
	PhaseTrading       Phase = "TRADING"
	PhaseAfterTrading  Phase = "AFTER_TRADING"
	PhaseSettlement    Phase = "SETTLEMENT"
)

// InitialPosition is one entry of a strategy-declared account state. A
// negative Amount opens a short slot.
type InitialPosition struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name,omitempty"`
	Amount  int64   `json:"amount"`
	AvgCost float64 `json:"avgCost,omitempty"`
}

// IntradaySample is one intraday net-worth observation kept for the monitor.
type IntradaySample struct {
	Time     string  `json:"time"`
	NetWorth float64 `json:"netWorth"`
}

// Context is the shared bus between the scheduler, the trading components and
// the strategy. All mutation happens on the scheduler goroutine; the coarse
// RWMutex exists solely so the monitoring server can copy state out.
type Context struct {
	mu sync.RWMutex

	cfg *config.Config

	Mode         config.Mode
	StrategyName string
	StartDate    string
	EndDate      string

	Portfolio *account.Portfolio
	Positions *account.Manager
	Orders    *order.Manager
	Provider  provider.Provider
	Benchmark *benchmark.Tracker

	metrics *obs.Metrics

	currentDT time.Time
	phase     Phase

	userData       map[string]any
	customSchedule []string

	// Run flags, owned by the scheduler goroutine. The command queue is the
	// only cross-thread path into them.
	running            bool
	paused             bool
	startPaused        bool
	interrupted        bool
	resyncRequested    bool
	strategyErrorToday bool
	initializing       bool
	initialStateSet    bool
	onEndFired         bool

	intraday []IntradaySample
	listener StateListener
}

// StateListener receives a state snapshot after every scheduler safe point.
type StateListener interface {
	OnState(StateSnapshot)
}

// NewContext assembles a context over freshly created components.
func NewContext(cfg *config.Config, p provider.Provider) *Context {
	return &Context{
		cfg:          cfg,
		Mode:         cfg.Engine.Mode,
		StrategyName: cfg.Engine.StrategyName,
		StartDate:    cfg.Engine.StartDate,
		EndDate:      cfg.Engine.EndDate,
		Portfolio:    account.NewPortfolio(cfg.Account.InitialCash),
		Positions:    account.NewManager(cfg.Account.ShortMarginRate, cfg.Account.TradingRule),
		Orders:       order.NewManager(cfg.Account.OrderLotSize),
		Provider:     p,
		Benchmark:    benchmark.NewTracker(cfg.Benchmark.Symbol),
		phase:        PhaseClosed,
		userData:     make(map[string]any),
	}
}

// Config returns the engine configuration.
func (c *Context) Config() *config.Config {
	return c.cfg
}

// CurrentDT returns the canonical "now" of the run.
func (c *Context) CurrentDT() time.Time {
	return c.currentDT
}

// Phase returns the current market phase.
func (c *Context) Phase() Phase {
	return c.phase
}

// SetListener registers the monitoring listener.
func (c *Context) SetListener(l StateListener) {
	c.listener = l
}

// SubmitOrder submits an order for the current bar. The sign of amount picks
// the side. Returns the order id, or an empty id with the rejection error.
func (c *Context) SubmitOrder(symbol string, amount int64, typ order.Type, limitPrice float64) (string, error) {
	var name string
	if info := c.Provider.SymbolInfo(symbol, c.currentDT.Format(calendar.DateLayout)); info != nil {
		name = info.Name
	}
	createdTime := c.currentDT
	if c.Mode == config.ModeSimulation {
		createdTime = time.Now()
	}
	o, err := c.Orders.Submit(symbol, name, amount, typ, limitPrice, createdTime, c.currentDT)
	if err != nil {
		logs.Warnf("order rejected at submit: %+v", err)
		c.metrics.IncOrderRejected()
		return "", err
	}
	c.metrics.IncOrderSubmitted()
	return o.ID, nil
}

// CancelOrder cancels an open order.
func (c *Context) CancelOrder(id string) bool {
	if c.Orders.Cancel(id) {
		c.metrics.IncOrderCancelled()
		return true
	}
	return false
}

// Set stores a value in the strategy's opaque dictionary.
func (c *Context) Set(key string, value any) {
	c.userData[key] = value
}

// Get reads a value from the strategy's opaque dictionary.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.userData[key]
	return v, ok
}

// AddSchedule registers an extra handle-bar point. Valid only during
// initialize; calls from other hooks are ignored with a warning.
func (c *Context) AddSchedule(clock string) {
	if !c.initializing {
		logs.Warnf("add_schedule(%q) ignored: only valid during initialize", clock)
		return
	}
	if _, err := time.Parse(calendar.ClockLayout, clock); err != nil {
		logs.Warnf("add_schedule(%q) ignored: %+v", clock, err)
		return
	}
	for _, p := range c.customSchedule {
		if p == clock {
			return
		}
	}
	c.customSchedule = append(c.customSchedule, clock)
	logs.Infof("custom schedule point added: %s", clock)
}

// SetInitialState declares the account's starting cash and positions. Valid
// once, during initialize; later calls are ignored with a warning.
func (c *Context) SetInitialState(cash float64, positions []InitialPosition) {
	if !c.initializing {
		logs.Warn("set_initial_state ignored: only valid during initialize")
		return
	}
	if c.initialStateSet {
		logs.Warn("set_initial_state ignored: already called once")
		return
	}

	c.Portfolio.Cash = cash
	if err := c.applyPositionTargets(positions); err != nil {
		logs.Errorf("set_initial_state: %+v", err)
		return
	}
	c.Portfolio.UpdateFinancials(c.Positions)
	c.Portfolio.InitialCash = c.Portfolio.NetWorth
	c.initialStateSet = true
	logs.Infof("initial state set: cash=%.2f positions=%d net_worth=%.2f",
		cash, len(c.Positions.All()), c.Portfolio.NetWorth)
}

// AlignAccountState reconciles the simulated account with an external one:
// cash is replaced and the target positions are applied wholesale. Meant for
// the broker_settle hook; refused during trading.
func (c *Context) AlignAccountState(cash float64, positions []InitialPosition) error {
	if c.phase == PhaseTrading {
		return errors.New("align_account_state is not allowed during trading")
	}

	original := c.Portfolio.Cash
	c.Portfolio.Cash = cash

	targets := make(map[account.Key]bool, len(positions))
	for _, p := range positions {
		dir := account.DirectionLong
		if p.Amount < 0 {
			dir = account.DirectionShort
		}
		targets[account.Key{Symbol: p.Symbol, Direction: dir}] = true
	}
	for _, pos := range c.Positions.All() {
		if !targets[account.Key{Symbol: pos.Symbol, Direction: pos.Direction}] {
			c.Positions.Adjust(pos.Symbol, pos.Name, pos.Direction, 0, 0, c.currentDT)
		}
	}
	if err := c.applyPositionTargets(positions); err != nil {
		return err
	}

	c.Portfolio.UpdateFinancials(c.Positions)
	logs.Infof("account state aligned: cash %.2f -> %.2f, net_worth %.2f",
		original, cash, c.Portfolio.NetWorth)
	return nil
}

func (c *Context) applyPositionTargets(positions []InitialPosition) error {
	for _, p := range positions {
		if p.Symbol == "" {
			return errors.New("position target requires a symbol")
		}
		if p.Amount == 0 {
			continue
		}
		dir := account.DirectionLong
		abs := p.Amount
		if p.Amount < 0 {
			dir = account.DirectionShort
			abs = -p.Amount
		}

		avgCost := p.AvgCost
		if avgCost == 0 {
			quote := c.Provider.CurrentPrice(p.Symbol, c.currentDT)
			if quote == nil || quote.Price == 0 {
				return errors.Errorf("no price for %s to use as cost basis", p.Symbol)
			}
			avgCost = quote.Price
		}
		name := p.Name
		if name == "" {
			if info := c.Provider.SymbolInfo(p.Symbol, c.currentDT.Format(calendar.DateLayout)); info != nil {
				name = info.Name
			}
		}
		c.Positions.Adjust(p.Symbol, name, dir, abs, avgCost, c.currentDT)
	}
	return nil
}

// UserData returns the opaque strategy dictionary.
func (c *Context) UserData() map[string]any {
	return c.userData
}

// CustomSchedule returns the strategy-added schedule points.
func (c *Context) CustomSchedule() []string {
	return c.customSchedule
}

// RecordIntraday appends an intraday net-worth sample.
func (c *Context) RecordIntraday() {
	c.intraday = append(c.intraday, IntradaySample{
		Time:     c.currentDT.Format(calendar.ClockLayout),
		NetWorth: c.Portfolio.NetWorth,
	})
}

func (c *Context) clearIntraday() {
	c.intraday = c.intraday[:0]
}
