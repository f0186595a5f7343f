package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/config"
	"qtrader/internal/obs"
)

// Strategy is the set of lifecycle hooks the engine drives. Initialize is
// required; the other hooks may be no-ops (embed strategy.Base).
type Strategy interface {
	Initialize(ctx *Context) error
	BeforeTrading(ctx *Context) error
	HandleBar(ctx *Context) error
	AfterTrading(ctx *Context) error
	BrokerSettle(ctx *Context) error
	OnEnd(ctx *Context) error
}

// Sandbox isolates strategy hooks from the engine: failures are logged and
// flagged, never propagated, and in simulation mode a hook that blocks past
// the threshold raises a resync request for the scheduler to consume.
type Sandbox struct {
	ctx            *Context
	strategy       Strategy
	blockThreshold time.Duration
	strictInit     bool
	metrics        *obs.Metrics
}

// NewSandbox wraps a strategy for sandboxed invocation.
func NewSandbox(ctx *Context, strategy Strategy, cfg *config.Config, metrics *obs.Metrics) *Sandbox {
	return &Sandbox{
		ctx:            ctx,
		strategy:       strategy,
		blockThreshold: cfg.BlockThreshold(),
		strictInit:     cfg.Engine.StrictInit,
		metrics:        metrics,
	}
}

func (s *Sandbox) call(name string, hook func(*Context) error) error {
	if s.strategy == nil {
		logs.Errorf("no strategy registered, skipping %s", name)
		return nil
	}

	start := time.Now()
	err := s.invoke(name, hook)
	elapsed := time.Since(start)
	s.metrics.ObserveHook(elapsed.Seconds())

	if err != nil {
		logs.Errorf("strategy hook %s failed: %+v", name, err)
		s.ctx.strategyErrorToday = true
		s.metrics.IncStrategyError()
	}

	if s.ctx.Mode == config.ModeSimulation && elapsed > s.blockThreshold {
		logs.Errorf("strategy hook %s blocked for %.2fs, requesting time resync", name, elapsed.Seconds())
		s.ctx.resyncRequested = true
	}
	return err
}

// invoke runs the hook, converting a panic into an error with its stack.
func (s *Sandbox) invoke(name string, hook func(*Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
		}
	}()
	logs.Debugf("calling strategy hook %s", name)
	return hook(s.ctx)
}

// CallInitialize runs the strategy's initialize hook. With strictInit the
// failure of a fresh run's initialize is fatal; otherwise the usual isolation
// applies.
func (s *Sandbox) CallInitialize() error {
	s.ctx.initializing = true
	defer func() { s.ctx.initializing = false }()

	err := s.call("initialize", s.strategy.Initialize)
	if err != nil && s.strictInit {
		return fmt.Errorf("strict init: %w", err)
	}
	return nil
}

func (s *Sandbox) CallBeforeTrading() {
	s.call("before_trading", s.strategy.BeforeTrading)
}

func (s *Sandbox) CallHandleBar() {
	s.call("handle_bar", s.strategy.HandleBar)
	s.metrics.IncBarFired()
}

func (s *Sandbox) CallAfterTrading() {
	s.call("after_trading", s.strategy.AfterTrading)
}

func (s *Sandbox) CallBrokerSettle() {
	s.call("broker_settle", s.strategy.BrokerSettle)
}

func (s *Sandbox) CallOnEnd() {
	s.call("on_end", s.strategy.OnEnd)
}
