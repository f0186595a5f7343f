package engine

import (
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/calendar"
)

// simState is the per-day flag set of the simulation state machine. All
// flags clear on calendar day rollover.
type simState struct {
	lastDate     string
	isTradingDay bool
	beforeDone   bool
	afterDone    bool
	brokerDone   bool
	settleDone   bool
	fired        map[string]bool
	started      bool
}

func (st *simState) resetDay(date string, trading bool) {
	st.lastDate = date
	st.isTradingDay = trading
	st.beforeDone = false
	st.afterDone = false
	st.brokerDone = false
	st.settleDone = false
	st.fired = make(map[string]bool)
	st.started = true
}

// runSimulation ticks the real-clock state machine until the run stops.
func (s *Scheduler) runSimulation() {
	logs.Info("simulation started, following the wall clock")
	interval := s.cfg.TickInterval()
	if interval <= 0 {
		interval = time.Second
	}

	// Align to the wall clock before the first tick: a resumed run settles
	// its missed trading days here, a fresh run just anchors the clock.
	if s.syncFn != nil {
		s.syncFn(s.clock.Now())
	}

	for s.ctx.running {
		start := s.clock.Now()
		s.simTick(start)

		if !s.checkRequests() {
			break
		}

		elapsed := s.clock.Now().Sub(start)
		if sleep := interval - elapsed; sleep > 0 {
			s.clock.Sleep(sleep)
		} else {
			s.clock.Sleep(pausePollInterval)
		}
	}

	if !s.ctx.onEndFired {
		s.event(PhaseClosed, s.ctx.currentDT, s.sandbox.CallOnEnd)
		s.ctx.onEndFired = true
	}
	logs.Info("simulation finished")
}

// SimTick advances the state machine by one tick at now. Exposed for the
// engine's time sync and for tests; production ticking goes through
// runSimulation.
func (s *Scheduler) SimTick(now time.Time) {
	s.simTick(now)
}

func (s *Scheduler) simTick(now time.Time) {
	if s.points == nil {
		s.buildPoints()
	}
	date := now.Format(calendar.DateLayout)
	clock := now.Format(calendar.ClockLayout)
	hooks := s.cfg.Lifecycle.Hooks

	// Day rollover clears every per-day flag and the intraday order book.
	if !s.sim.started || date != s.sim.lastDate {
		trading := s.cal.IsTradingDay(date)
		s.sim.resetDay(date, trading)
		s.startOfDay()
		s.ctx.mu.Lock()
		s.ctx.Orders.Reset()
		s.ctx.currentDT = now
		s.ctx.mu.Unlock()
		if trading {
			logs.Infof("--- new trading day %s ---", date)
		} else {
			logs.Infof("--- %s is not a trading day ---", date)
		}
	}

	if !s.sim.isTradingDay {
		s.setPhase(PhaseClosed, now)
		return
	}

	s.setPhase(s.derivePhase(clock), now)

	if clock >= hooks.BeforeTrading && !s.sim.beforeDone {
		s.event(s.ctx.phase, now, s.sandbox.CallBeforeTrading)
		s.sim.beforeDone = true
		if s.consumeResync(now) {
			return
		}
	}

	if s.fireDueBar(now, clock) {
		if s.consumeResync(now) {
			return
		}
	}

	if clock >= hooks.AfterTrading && !s.sim.afterDone {
		s.event(PhaseAfterTrading, now, s.sandbox.CallAfterTrading)
		s.sim.afterDone = true
		if s.consumeResync(now) {
			return
		}
	}

	if clock >= hooks.BrokerSettle && !s.sim.brokerDone {
		s.event(PhaseSettlement, now, s.sandbox.CallBrokerSettle)
		s.sim.brokerDone = true
		if s.consumeResync(now) {
			return
		}
	}

	if clock >= hooks.BrokerSettle && s.sim.brokerDone && !s.sim.settleDone {
		if s.settledToday(date) {
			// Settlement already ran for this date during a time sync.
			s.sim.settleDone = true
			return
		}
		s.event(PhaseSettlement, now, func() {
			s.match.Settle(now)
			s.ctx.Benchmark.UpdateDaily(s.ctx.Provider, now)
		})
		s.sim.settleDone = true
		s.daysSettled++
		s.autoSave(s.daysSettled)
		s.consumeResync(now)
	}
}

// fireDueBar fires the greatest unfired schedule point at or before now.
// Points older than the tolerance are marked fired and skipped with a
// warning. Reports whether a bar actually fired.
func (s *Scheduler) fireDueBar(now time.Time, clock string) bool {
	target := ""
	for _, p := range s.points {
		if p <= clock && !s.sim.fired[p] {
			target = p
		}
	}
	if target == "" {
		return false
	}

	// Everything below the target is stale by construction.
	for _, p := range s.points {
		if p < target && !s.sim.fired[p] {
			s.sim.fired[p] = true
		}
	}
	s.sim.fired[target] = true

	barDT := s.at(now.Format(calendar.DateLayout), target)
	if now.Sub(barDT) > s.barTolerance() {
		logs.Warnf("schedule point %s missed outside tolerance (now %s), skipped", target, clock)
		return false
	}

	s.event(PhaseTrading, now, func() {
		s.sandbox.CallHandleBar()
		s.match.MatchOrders(now)
		s.ctx.RecordIntraday()
	})
	return true
}

func (s *Scheduler) barTolerance() time.Duration {
	switch s.cfg.Engine.Frequency {
	case calendar.FrequencyDaily:
		return 24 * time.Hour
	case calendar.FrequencyTick:
		return s.cfg.TickInterval()
	default:
		return time.Minute
	}
}

// derivePhase maps the wall clock onto the market phase.
func (s *Scheduler) derivePhase(clock string) Phase {
	hooks := s.cfg.Lifecycle.Hooks
	sessions := s.cfg.Sessions()
	for _, sess := range sessions {
		if sess.Open <= clock && clock <= sess.Close {
			return PhaseTrading
		}
	}
	if len(sessions) > 0 {
		if clock >= hooks.BeforeTrading && clock < sessions[0].Open {
			return PhaseBeforeTrading
		}
		if clock > sessions[len(sessions)-1].Close && clock < hooks.BrokerSettle {
			return PhaseAfterTrading
		}
	}
	if clock >= hooks.BrokerSettle && !s.sim.settleDone {
		return PhaseSettlement
	}
	return PhaseClosed
}

func (s *Scheduler) setPhase(phase Phase, now time.Time) {
	s.ctx.mu.Lock()
	changed := s.ctx.phase != phase
	s.ctx.phase = phase
	s.ctx.currentDT = now
	s.ctx.mu.Unlock()
	if changed {
		s.ctx.notify()
	}
}

// settledToday reports whether the portfolio already holds a history entry
// for date, which means settlement ran (typically inside a time sync).
func (s *Scheduler) settledToday(date string) bool {
	history := s.ctx.Portfolio.History
	return len(history) > 0 && history[len(history)-1].Date == date
}

// consumeResync runs the time sync when the sandbox watchdog raised the
// flag. The state machine restarts from the freshly aligned clock.
func (s *Scheduler) consumeResync(now time.Time) bool {
	if !s.ctx.resyncRequested {
		return false
	}
	logs.Info("resync requested; realigning to the wall clock")
	s.ctx.resyncRequested = false
	if s.syncFn != nil {
		s.syncFn(s.clock.Now())
	}

	// Bars at or before the realigned clock count as consumed so the blocked
	// bar does not re-fire; the once-per-day flags keep their state. A sync
	// that crossed midnight is handled by the rollover on the next tick.
	clock := s.clock.Now().Format(calendar.ClockLayout)
	for _, p := range s.points {
		if p <= clock {
			s.sim.fired[p] = true
		}
	}
	if s.settledToday(now.Format(calendar.DateLayout)) {
		s.sim.settleDone = true
		s.sim.brokerDone = true
	}
	return true
}
