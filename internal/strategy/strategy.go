package strategy

import (
	"sort"
	"sync"

	"github.com/yanun0323/errors"

	"qtrader/internal/engine"
)

// Base is a no-op implementation of every optional hook. Embed it and
// override what the strategy needs; Initialize stays mandatory.
type Base struct{}

func (Base) BeforeTrading(*engine.Context) error { return nil }
func (Base) HandleBar(*engine.Context) error     { return nil }
func (Base) AfterTrading(*engine.Context) error  { return nil }
func (Base) BrokerSettle(*engine.Context) error  { return nil }
func (Base) OnEnd(*engine.Context) error         { return nil }

// Factory builds a fresh strategy instance for one run.
type Factory func() engine.Strategy

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register adds a strategy factory under a name. The runner resolves
// -strategy flags against this registry. Last registration wins.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New instantiates a registered strategy.
func New(name string) (engine.Strategy, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown strategy: %q", name)
	}
	return factory(), nil
}

// Names lists the registered strategies in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
