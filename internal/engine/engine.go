package engine

import (
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/account"
	"qtrader/internal/artifact"
	"qtrader/internal/benchmark"
	"qtrader/internal/bus"
	"qtrader/internal/calendar"
	"qtrader/internal/config"
	"qtrader/internal/match"
	"qtrader/internal/obs"
	"qtrader/internal/provider"
	"qtrader/internal/snapshot"
	"qtrader/internal/workspace"
)

// Options tune engine construction beyond the config file.
type Options struct {
	Clock          Clock
	Metrics        *obs.Metrics
	StartPaused    bool
	StrategySource string
	ProviderSource string
}

// Engine assembles the run: it owns the components, moves control to the
// scheduler and performs the finalization (state save, CSV export, optional
// database mirror) no matter how the run ends.
type Engine struct {
	cfg     *config.Config
	ctx     *Context
	cal     *calendar.Calendar
	match   *match.Engine
	sandbox *Sandbox
	sched   *Scheduler
	ws      *workspace.Workspace
	metrics *obs.Metrics

	commands *bus.Queue
	clock    Clock

	strategySource string
	providerSource string

	// sourceEnv keeps the loaded envelope of a resume or fork so unknown
	// sections survive the next save.
	sourceEnv      *snapshot.Envelope
	skipInitialize bool
}

// New builds an engine for a fresh run.
func New(cfg *config.Config, p provider.Provider, strat Strategy, opts Options) (*Engine, error) {
	e, err := build(cfg, p, strat, opts)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(cfg.Workspace.Root, cfg.Engine.StrategyName, string(cfg.Engine.Mode))
	if err != nil {
		return nil, err
	}
	e.ws = ws
	e.injectInitialHistory()
	return e, nil
}

// Resume rebuilds an engine from a PAUSED envelope. The run continues on the
// same workspace and the strategy's initialize does not run again.
func Resume(statePath string, p provider.Provider, strat Strategy, override *config.Config, opts Options) (*Engine, error) {
	env, err := snapshot.Load(statePath)
	if err != nil {
		return nil, err
	}
	if err := env.EnsureResumable(); err != nil {
		return nil, err
	}

	cfg := env.Config
	if override != nil {
		cfg = override
	}
	if cfg == nil {
		return nil, errors.New("resume requires a config, none stored in the snapshot")
	}

	e, err := build(cfg, p, strat, opts)
	if err != nil {
		return nil, err
	}
	restore(e.ctx, env)

	ws, err := workspace.Open(filepath.Dir(statePath))
	if err != nil {
		return nil, err
	}
	e.ws = ws
	e.sourceEnv = env
	e.skipInitialize = true
	e.sched.SetResumePoint(env.Context.CurrentDT)
	if cfg.Engine.Mode == config.ModeBacktest && !env.Context.CurrentDT.IsZero() {
		// The days before the snapshot already ran.
		e.ctx.StartDate = env.Context.CurrentDT.Format(calendar.DateLayout)
	}
	logs.Infof("resuming %s from %s", e.ctx.StrategyName, env.Context.CurrentDT.Format(calendar.DateTimeLayout))
	return e, nil
}

// Fork derives a new run from a PAUSED envelope at the fork date: history
// strictly before the date survives, a new strategy takes over and a fresh
// workspace is created. The forked run executes as a backtest from the fork
// date.
func Fork(statePath string, forkOpts snapshot.ForkOptions, p provider.Provider, strat Strategy, override *config.Config, opts Options) (*Engine, error) {
	parent, err := snapshot.Load(statePath)
	if err != nil {
		return nil, err
	}
	forkOpts.StrategySource = opts.StrategySource
	forkOpts.ProviderSource = opts.ProviderSource
	forked, err := snapshot.Fork(parent, forkOpts)
	if err != nil {
		return nil, err
	}

	cfg := forked.Config
	if override != nil {
		cfg = override
	}
	if cfg == nil {
		return nil, errors.New("fork requires a config, none stored in the snapshot")
	}
	forkedCfg := *cfg
	forkedCfg.Engine.Mode = config.ModeBacktest
	forkedCfg.Engine.StrategyName = forkOpts.StrategyName
	forkedCfg.Engine.StartDate = forkOpts.Date

	e, err := build(&forkedCfg, p, strat, opts)
	if err != nil {
		return nil, err
	}
	restore(e.ctx, forked)
	e.ctx.Portfolio.UpdateFinancials(e.ctx.Positions)

	ws, err := workspace.New(forkedCfg.Workspace.Root, forkOpts.StrategyName, string(config.ModeBacktest))
	if err != nil {
		return nil, err
	}
	e.ws = ws
	e.sourceEnv = forked
	e.skipInitialize = !forkOpts.Reinitialize
	return e, nil
}

func build(cfg *config.Config, p provider.Provider, strat Strategy, opts Options) (*Engine, error) {
	if p == nil {
		return nil, errors.New("engine requires a data provider")
	}
	if strat == nil {
		return nil, errors.New("engine requires a strategy")
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	ctx := NewContext(cfg, p)
	ctx.metrics = metrics
	ctx.startPaused = opts.StartPaused

	start, end := calendarRange(cfg, clock)
	cal, err := calendar.New(p, cfg.Sessions(), start, end)
	if err != nil {
		return nil, err
	}

	m := match.NewEngine(p, ctx.Orders, ctx.Portfolio, ctx.Positions, cfg.Matching, cfg.Account, metrics)
	sandbox := NewSandbox(ctx, strat, cfg, metrics)
	commands := bus.NewQueue(16)

	e := &Engine{
		cfg:            cfg,
		ctx:            ctx,
		cal:            cal,
		match:          m,
		sandbox:        sandbox,
		metrics:        metrics,
		commands:       commands,
		clock:          clock,
		strategySource: opts.StrategySource,
		providerSource: opts.ProviderSource,
	}
	e.sched = NewScheduler(ctx, cfg, cal, m, sandbox, commands, clock, e)
	e.sched.SetSyncFn(e.synchronizeToRealtime)
	return e, nil
}

// calendarRange picks the calendar window to prefetch. Simulation ignores the
// configured dates and spans a year around the wall clock so time sync can
// look backward.
func calendarRange(cfg *config.Config, clock Clock) (string, string) {
	if cfg.Engine.Mode == config.ModeBacktest {
		return cfg.Engine.StartDate, cfg.Engine.EndDate
	}
	now := clock.Now()
	return now.AddDate(-1, 0, 0).Format(calendar.DateLayout),
		now.AddDate(1, 0, 0).Format(calendar.DateLayout)
}

func restore(ctx *Context, env *snapshot.Envelope) {
	ctx.StrategyName = env.Context.StrategyName
	ctx.StartDate = env.Context.StartDate
	if env.Context.EndDate != "" && ctx.Mode == config.ModeBacktest {
		if ctx.EndDate == "" {
			ctx.EndDate = env.Context.EndDate
		}
	}
	ctx.currentDT = env.Context.CurrentDT
	ctx.customSchedule = append([]string(nil), env.Context.CustomSchedule...)

	if env.Portfolio != nil {
		*ctx.Portfolio = *env.Portfolio
	}
	ctx.Positions.Restore(env.Positions)
	ctx.Positions.RestoreSnapshots(env.PositionSnapshots)
	ctx.Orders.Restore(env.Orders)
	if env.Benchmark != nil {
		ctx.Benchmark = env.Benchmark
	} else if ctx.Benchmark == nil {
		ctx.Benchmark = benchmark.NewTracker("")
	}
	if env.UserData != nil {
		ctx.userData = env.UserData
	}
}

// Workspace exposes the run's artifact directory.
func (e *Engine) Workspace() *workspace.Workspace {
	return e.ws
}

// Context exposes the run context, mainly for the monitoring server and
// tests.
func (e *Engine) Context() *Context {
	return e.ctx
}

// Metrics exposes the engine's metrics registry.
func (e *Engine) Metrics() *obs.Metrics {
	return e.metrics
}

// Commands exposes the control command queue.
func (e *Engine) Commands() *bus.Queue {
	return e.commands
}

// Scheduler exposes the scheduler, for tests that drive ticks directly.
func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// Pause requests a pause; it takes effect after the current hook returns.
func (e *Engine) Pause() {
	e.publish(bus.CommandPause)
}

// ResumeRun releases a paused run.
func (e *Engine) ResumeRun() {
	e.publish(bus.CommandResume)
}

// Stop requests a graceful stop.
func (e *Engine) Stop() {
	e.publish(bus.CommandStop)
}

func (e *Engine) publish(kind bus.CommandKind) {
	if err := e.commands.TryPublish(bus.Command{Kind: kind, Source: "api"}); err != nil {
		logs.Warnf("publish %s command: %+v", kind, err)
	}
}

// Run executes the whole run and returns its terminal status. A panic from a
// non-strategy component is a bug: it is logged, an INTERRUPTED envelope is
// forced to disk and the status reports INTERRUPTED.
func (e *Engine) Run() (status snapshot.RunStatus, err error) {
	e.ctx.running = true

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("engine panic: %v\n%s", r, debug.Stack())
			e.ctx.interrupted = true
			err = errors.Errorf("engine panic: %v", r)
		}
		e.finalize()
		if e.ctx.interrupted {
			status = snapshot.StatusInterrupted
		} else {
			status = snapshot.StatusFinished
		}
	}()

	if runErr := e.sched.Run(e.skipInitialize); runErr != nil {
		e.ctx.interrupted = true
		return snapshot.StatusInterrupted, runErr
	}
	return snapshot.StatusFinished, nil
}

// injectInitialHistory seeds a day-0 equity point so the first trading day
// has a well-defined return base.
func (e *Engine) injectInitialHistory() {
	if len(e.ctx.Portfolio.History) > 0 {
		return
	}
	var firstDay string
	if e.cfg.Engine.Mode == config.ModeBacktest {
		days := e.cal.TradingDays(e.ctx.StartDate, e.ctx.EndDate)
		if len(days) == 0 {
			return
		}
		firstDay = days[0]
	} else {
		firstDay = e.clock.Now().Format(calendar.DateLayout)
	}
	first, err := time.Parse(calendar.DateLayout, firstDay)
	if err != nil {
		return
	}
	dayBefore := first.AddDate(0, 0, -1).Format(calendar.DateLayout)
	e.ctx.Portfolio.History = append(e.ctx.Portfolio.History, account.EquityPoint{
		Date:     dayBefore,
		NetWorth: e.ctx.Portfolio.InitialCash,
		Cash:     e.ctx.Portfolio.InitialCash,
	})
	logs.Debugf("initial equity point injected at %s", dayBefore)
}

// synchronizeToRealtime rewinds the simulation state to the wall clock:
// stale open orders expire, every missed trading day settles (no strategy
// hooks fire) and the clock and phase realign.
func (e *Engine) synchronizeToRealtime(now time.Time) {
	logs.Info("time synchronization started")
	e.ctx.mu.Lock()
	defer e.ctx.mu.Unlock()
	last := e.ctx.currentDT

	if !last.IsZero() {
		e.ctx.Orders.ExpireOpen()
		e.ctx.Orders.Reset()

		missedStart := last.AddDate(0, 0, 1).Format(calendar.DateLayout)
		missedEnd := now.AddDate(0, 0, -1).Format(calendar.DateLayout)
		// The snapshot day itself still needs its settlement when the pause
		// happened before settle time.
		if lastClock := last.Format(calendar.ClockLayout); lastClock < e.cfg.Lifecycle.Hooks.BrokerSettle {
			missedStart = last.Format(calendar.DateLayout)
		}

		missed := e.cal.TradingDays(missedStart, missedEnd)
		settled := make(map[string]struct{}, len(e.ctx.Portfolio.History))
		for _, h := range e.ctx.Portfolio.History {
			settled[h.Date] = struct{}{}
		}
		for _, day := range missed {
			if _, done := settled[day]; done {
				continue
			}
			dt := e.sched.at(day, e.cfg.Lifecycle.Hooks.BrokerSettle)
			e.ctx.currentDT = dt
			e.match.Settle(dt)
			e.ctx.Benchmark.UpdateDaily(e.ctx.Provider, dt)
			logs.Infof("fast-forward settle for missed day %s", day)
		}
	}

	e.ctx.currentDT = now
	e.ctx.phase = e.sched.derivePhase(now.Format(calendar.ClockLayout))
	if !e.cal.IsTradingDay(now.Format(calendar.DateLayout)) {
		e.ctx.phase = PhaseClosed
	}
	e.metrics.IncResync()
	logs.Infof("time synchronized to %s (phase %s)", now.Format(calendar.DateTimeLayout), e.ctx.phase)
}

// SaveState persists the current state under the tag. Implements Saver for
// the scheduler.
func (e *Engine) SaveState(status snapshot.RunStatus, tag string) error {
	env := e.buildEnvelope(status)
	path := e.ws.StateFile(e.ctx.StrategyName, tag)
	if err := snapshot.Save(path, env); err != nil {
		return err
	}
	logs.Infof("state saved: %s (%s)", path, status)
	return nil
}

func (e *Engine) buildEnvelope(status snapshot.RunStatus) *snapshot.Envelope {
	env := &snapshot.Envelope{
		Status: status,
		Context: snapshot.ContextState{
			Mode:           string(e.ctx.Mode),
			StrategyName:   e.ctx.StrategyName,
			StartDate:      e.ctx.StartDate,
			EndDate:        e.ctx.EndDate,
			CurrentDT:      e.ctx.currentDT,
			Frequency:      string(e.cfg.Engine.Frequency),
			CustomSchedule: e.ctx.customSchedule,
		},
		Config:            e.cfg,
		Portfolio:         e.ctx.Portfolio,
		Positions:         e.ctx.Positions.All(),
		PositionSnapshots: e.ctx.Positions.Snapshots(),
		Orders:            e.ctx.Orders.AllKnown(),
		Benchmark:         e.ctx.Benchmark,
		UserData:          e.ctx.userData,
		StrategySource:    e.strategySource,
		ProviderSource:    e.providerSource,
	}
	env.InheritExtra(e.sourceEnv)
	return env
}

// finalize saves the terminal state and exports the artifacts. It runs on
// every exit path.
func (e *Engine) finalize() {
	logs.Info("finalizing run")
	e.ctx.running = false
	e.ctx.paused = false

	if e.ctx.interrupted && !e.ctx.onEndFired {
		e.sandbox.CallOnEnd()
		e.ctx.onEndFired = true
	}

	status := snapshot.StatusFinished
	tag := "final"
	if e.ctx.interrupted {
		status = snapshot.StatusInterrupted
		tag = "interrupt"
	}
	if err := e.SaveState(status, tag); err != nil {
		logs.Errorf("save terminal state: %+v", err)
	}

	if err := artifact.WriteEquityCSV(e.ws.EquityCSV(), e.ctx.Portfolio.History); err != nil {
		logs.Errorf("export equity.csv: %+v", err)
	}
	if err := artifact.WriteOrdersCSV(e.ws.OrdersCSV(), e.ctx.Orders.AllKnown()); err != nil {
		logs.Errorf("export orders.csv: %+v", err)
	}
	if err := artifact.WritePositionsCSV(e.ws.PositionsCSV(), e.ctx.Positions.Snapshots()); err != nil {
		logs.Errorf("export daily_positions.csv: %+v", err)
	}

	if dbCfg := e.cfg.Artifacts.Database; dbCfg != nil {
		if store, err := artifact.OpenStore(dbCfg); err != nil {
			logs.Errorf("open artifact store: %+v", err)
		} else {
			if err := store.SaveRun(e.ws.RunID, e.ctx.Portfolio.History, e.ctx.Orders.AllKnown(), e.ctx.Positions.Snapshots()); err != nil {
				logs.Errorf("mirror artifacts: %+v", err)
			}
			_ = store.Close()
		}
	}

	e.ctx.notify()
	logs.Info("run finalized")
}
