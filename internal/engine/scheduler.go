package engine

import (
	"strconv"
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/bus"
	"qtrader/internal/calendar"
	"qtrader/internal/config"
	"qtrader/internal/match"
	"qtrader/internal/snapshot"
)

const pausePollInterval = 100 * time.Millisecond

// Clock abstracts the wall clock so simulation runs are testable.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Saver persists run state at the scheduler's safe points.
type Saver interface {
	SaveState(status snapshot.RunStatus, tag string) error
}

// Scheduler drives the strategy through the lifecycle events: the
// deterministic backtest loop and the wall-clock simulation state machine.
// It is the only goroutine that mutates the trading components.
type Scheduler struct {
	ctx      *Context
	cfg      *config.Config
	cal      *calendar.Calendar
	match    *match.Engine
	sandbox  *Sandbox
	commands *bus.Queue
	clock    Clock
	saver    Saver

	// syncFn rewinds the simulation to wall-clock time; set by the engine.
	syncFn func(now time.Time)

	points      []string
	resumeDT    time.Time
	sim         simState
	daysSettled int
}

// NewScheduler wires a scheduler over the run's components.
func NewScheduler(ctx *Context, cfg *config.Config, cal *calendar.Calendar, m *match.Engine, sandbox *Sandbox, commands *bus.Queue, clock Clock, saver Saver) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		ctx:      ctx,
		cfg:      cfg,
		cal:      cal,
		match:    m,
		sandbox:  sandbox,
		commands: commands,
		clock:    clock,
		saver:    saver,
	}
}

// SetResumePoint marks the snapshot instant a resumed run continues from.
// Events at or before it are considered executed.
func (s *Scheduler) SetResumePoint(dt time.Time) {
	s.resumeDT = dt
}

// SetSyncFn registers the simulation time-sync routine.
func (s *Scheduler) SetSyncFn(fn func(now time.Time)) {
	s.syncFn = fn
}

// Run executes the main event loop until the run finishes or is stopped.
func (s *Scheduler) Run(skipInitialize bool) error {
	if !skipInitialize {
		if err := s.sandbox.CallInitialize(); err != nil {
			return err
		}
	}
	s.buildPoints()

	if s.ctx.startPaused {
		logs.Info("run starts paused; waiting for a resume command")
		s.ctx.startPaused = false
		s.ctx.paused = true
		s.ctx.notify()
		if !s.pauseLoop() {
			return nil
		}
	}

	if s.ctx.Mode == config.ModeBacktest {
		s.runBacktest()
	} else {
		s.runSimulation()
	}
	return nil
}

// buildPoints merges the configured schedule with strategy-added points,
// clamped to the trading sessions.
func (s *Scheduler) buildPoints() {
	base := calendar.BuildSchedule(
		s.cfg.Engine.Frequency,
		s.cfg.Lifecycle.Hooks.HandleBar,
		s.cfg.Sessions(),
		s.cfg.TickInterval(),
	)
	custom := calendar.ClampPoints(s.ctx.CustomSchedule(), s.cfg.Sessions())
	s.points = calendar.MergePoints(base, custom)
	logs.Infof("schedule built: %d points per day", len(s.points))
}

func (s *Scheduler) runBacktest() {
	days := s.cal.TradingDays(s.ctx.StartDate, s.ctx.EndDate)
	if len(days) == 0 {
		logs.Warn("no trading days in range, nothing to do")
		s.event(PhaseClosed, s.ctx.currentDT, s.sandbox.CallOnEnd)
		return
	}
	logs.Infof("backtest started: %d trading days", len(days))

	hooks := s.cfg.Lifecycle.Hooks
	resumeDT := s.resumeDT

dayLoop:
	for idx, date := range days {
		if !s.ctx.running {
			break
		}
		logs.Infof("--- trading day %s (%d/%d) ---", date, idx+1, len(days))

		points := s.points
		isResumeDay := !resumeDT.IsZero() && date == resumeDT.Format(calendar.DateLayout)
		resumeClock := ""
		if isResumeDay {
			// The snapshot's event already ran; continue strictly after it.
			resumeClock = resumeDT.Format(calendar.ClockLayout)
			var remaining []string
			for _, p := range points {
				if p > resumeClock {
					remaining = append(remaining, p)
				}
			}
			points = remaining
			logs.Infof("resume day: %d schedule points remaining", len(points))
		} else {
			s.startOfDay()
			dt := s.at(date, hooks.BeforeTrading)
			s.event(PhaseBeforeTrading, dt, s.sandbox.CallBeforeTrading)
			if !s.checkRequests() {
				break dayLoop
			}
		}

		for _, p := range points {
			dt := s.at(date, p)
			s.event(PhaseTrading, dt, func() {
				s.sandbox.CallHandleBar()
				s.match.MatchOrders(dt)
				s.ctx.RecordIntraday()
			})
			if !s.checkRequests() {
				break dayLoop
			}
		}

		if !(isResumeDay && resumeClock >= hooks.AfterTrading) {
			dt := s.at(date, hooks.AfterTrading)
			s.event(PhaseAfterTrading, dt, s.sandbox.CallAfterTrading)
			if !s.checkRequests() {
				break dayLoop
			}
		}

		if !(isResumeDay && s.settledToday(date)) {
			dt := s.at(date, hooks.BrokerSettle)
			s.event(PhaseSettlement, dt, func() {
				s.sandbox.CallBrokerSettle()
				s.match.Settle(dt)
				s.ctx.Benchmark.UpdateDaily(s.ctx.Provider, dt)
			})
			if !s.checkRequests() {
				break dayLoop
			}
		}

		s.autoSave(idx + 1)
	}

	if s.ctx.running {
		s.event(PhaseClosed, s.ctx.currentDT, s.sandbox.CallOnEnd)
		s.ctx.onEndFired = true
	}
	logs.Info("backtest finished")
}

// startOfDay resets the intraday state for a fresh trading day.
func (s *Scheduler) startOfDay() {
	s.match.ClearDailyCache()
	s.ctx.clearIntraday()
	s.ctx.strategyErrorToday = false
}

func (s *Scheduler) at(date, clock string) time.Time {
	dt, err := calendar.At(date, clock)
	if err != nil {
		logs.Errorf("combine %s %s: %+v", date, clock, err)
	}
	return dt
}

// event runs one lifecycle event under the context write lock and publishes
// the post-event state to the monitor.
func (s *Scheduler) event(phase Phase, dt time.Time, fn func()) {
	s.ctx.mu.Lock()
	if !dt.IsZero() {
		s.ctx.currentDT = dt
	}
	s.ctx.phase = phase
	fn()
	s.ctx.mu.Unlock()
	s.ctx.notify()
}

// checkRequests drains the control queue at a safe point. Returns false when
// the run must stop.
func (s *Scheduler) checkRequests() bool {
	for {
		cmd, ok := s.commands.TryNext()
		if !ok {
			break
		}
		switch cmd.Kind {
		case bus.CommandStop:
			logs.Infof("stop requested by %s", cmd.Source)
			s.ctx.running = false
			s.ctx.interrupted = true
			return false
		case bus.CommandPause:
			logs.Infof("pause requested by %s; pausing at %s", cmd.Source, s.ctx.currentDT.Format(calendar.DateTimeLayout))
			if s.saver != nil {
				if err := s.saver.SaveState(snapshot.StatusPaused, "pause"); err != nil {
					logs.Errorf("save pause state: %+v", err)
				}
			}
			s.ctx.paused = true
			s.ctx.notify()
			if !s.pauseLoop() {
				return false
			}
		case bus.CommandResume:
			// Not paused; nothing to resume.
		}
	}
	return s.ctx.running
}

// pauseLoop blocks until a resume or stop command arrives.
func (s *Scheduler) pauseLoop() bool {
	for s.ctx.paused {
		if cmd, ok := s.commands.TryNext(); ok {
			switch cmd.Kind {
			case bus.CommandStop:
				logs.Info("stop received while paused")
				s.ctx.paused = false
				s.ctx.running = false
				s.ctx.interrupted = true
				return false
			case bus.CommandResume:
				logs.Info("run resumed")
				s.ctx.paused = false
				s.ctx.notify()
				return true
			}
		}
		s.clock.Sleep(pausePollInterval)
	}
	return s.ctx.running
}

func (s *Scheduler) autoSave(daysDone int) {
	interval := s.cfg.Snapshot.AutoSaveInterval
	if interval <= 0 || s.saver == nil || daysDone%interval != 0 {
		return
	}
	tag := "auto_save"
	if s.cfg.Snapshot.AutoSaveMode == "increment" {
		tag = fmtAutoSaveTag(daysDone)
	}
	if err := s.saver.SaveState(snapshot.StatusPaused, tag); err != nil {
		logs.Errorf("auto save: %+v", err)
	}
}

func fmtAutoSaveTag(daysDone int) string {
	return "auto_save_day_" + strconv.Itoa(daysDone)
}
