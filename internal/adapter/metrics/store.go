package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics holds Prometheus metrics for the partition store backends.
type StoreMetrics struct {
	OpsTotal           *prometheus.CounterVec
	OpDuration         *prometheus.HistogramVec
	ConnectionErrors   *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total store operations, by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"backend", "operation"}),
		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "connection_errors_total",
			Help:      "Total store connection errors, by backend.",
		}, []string{"backend"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions, by backend and new state.",
		}, []string{"backend", "state"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
	}

	reg.MustRegister(m.OpsTotal, m.OpDuration, m.ConnectionErrors, m.BreakerTransitions, m.BreakerState)
	return m
}

func (m *StoreMetrics) Observe(backend, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OpsTotal.WithLabelValues(backend, operation, status).Inc()
	m.OpDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

func (m *StoreMetrics) ConnectionFailed(backend string) {
	if m != nil {
		m.ConnectionErrors.WithLabelValues(backend).Inc()
	}
}

func (m *StoreMetrics) BreakerChanged(backend, state string, value float64) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(backend, state).Inc()
	m.BreakerState.WithLabelValues(backend).Set(value)
}
