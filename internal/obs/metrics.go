package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine counters on a private registry so multiple engines
// can coexist in one process. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted prometheus.Counter
	ordersFilled    prometheus.Counter
	ordersRejected  prometheus.Counter
	ordersCancelled prometheus.Counter
	barsFired       prometheus.Counter
	settleDays      prometheus.Counter
	strategyErrors  prometheus.Counter
	resyncs         prometheus.Counter
	hookDuration    prometheus.Histogram
}

// NewMetrics allocates a metrics container with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_orders_submitted_total",
			Help: "Orders accepted by the order manager.",
		}),
		ordersFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_orders_filled_total",
			Help: "Orders filled by the matching engine.",
		}),
		ordersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_orders_rejected_total",
			Help: "Orders rejected by the risk gate or at submission.",
		}),
		ordersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_orders_cancelled_total",
			Help: "Orders cancelled by the strategy.",
		}),
		barsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_bars_fired_total",
			Help: "handle_bar invocations.",
		}),
		settleDays: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_settle_days_total",
			Help: "Daily settlements completed.",
		}),
		strategyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_strategy_errors_total",
			Help: "Strategy hook failures isolated by the sandbox.",
		}),
		resyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "qtrader_resyncs_total",
			Help: "Time resynchronizations to the wall clock (simulation start and watchdog requests).",
		}),
		hookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "qtrader_hook_duration_seconds",
			Help:    "Strategy hook wall time.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

func (m *Metrics) IncOrderFilled() {
	if m == nil {
		return
	}
	m.ordersFilled.Inc()
}

func (m *Metrics) IncOrderRejected() {
	if m == nil {
		return
	}
	m.ordersRejected.Inc()
}

func (m *Metrics) IncOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

func (m *Metrics) IncBarFired() {
	if m == nil {
		return
	}
	m.barsFired.Inc()
}

func (m *Metrics) IncSettleDay() {
	if m == nil {
		return
	}
	m.settleDays.Inc()
}

func (m *Metrics) IncStrategyError() {
	if m == nil {
		return
	}
	m.strategyErrors.Inc()
}

func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

func (m *Metrics) ObserveHook(seconds float64) {
	if m == nil {
		return
	}
	m.hookDuration.Observe(seconds)
}
