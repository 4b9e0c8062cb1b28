package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics holds the service's Prometheus collectors. A nil
// *SettlementMetrics records nothing.
type SettlementMetrics struct {
	ordersCreated *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	outbox        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registered
// with the default Prometheus registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "orders",
				Name:      "created_total",
				Help:      "Orders created, segmented by token.",
			}, []string{"token"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Success-callback settlement attempts segmented by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "onramp",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Latency of settlement attempts including chain confirmation.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			}, []string{"outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "orders",
				Name:      "transitions_total",
				Help:      "Order status transitions segmented by target status.",
			}, []string{"status"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "sweeper",
				Name:      "orders_total",
				Help:      "Orders touched by the expiry sweep segmented by action.",
			}, []string{"action"}),
			outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "outbox",
				Name:      "events_total",
				Help:      "Outbox events handled by the publisher segmented by result.",
			}, []string{"result"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "onramp",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "onramp",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			settlementRegistry.ordersCreated,
			settlementRegistry.settlements,
			settlementRegistry.duration,
			settlementRegistry.transitions,
			settlementRegistry.sweeps,
			settlementRegistry.outbox,
			settlementRegistry.httpRequests,
			settlementRegistry.httpLatency,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) OrderCreated(token string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(token).Inc()
}

// ObserveSettlement records one success-callback attempt.
func (m *SettlementMetrics) ObserveSettlement(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *SettlementMetrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *SettlementMetrics) Swept(action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweeps.WithLabelValues(action).Add(float64(count))
}

func (m *SettlementMetrics) OutboxEvent(result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(result).Inc()
}

// ObserveHTTP records the status code ultimately written for route.
func (m *SettlementMetrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
