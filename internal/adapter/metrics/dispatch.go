package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics holds Prometheus metrics for the outbound dispatch bridge.
type DispatchMetrics struct {
	Forwarded    *prometheus.CounterVec
	Delivered    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
	BreakerState *prometheus.GaugeVec
}

// NewDispatchMetrics creates and registers dispatch metrics on the given registry.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "forwarded_total",
			Help:      "Total number of events accepted by the dispatch bridge, by sink.",
		}, []string{"sink"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivered_total",
			Help:      "Total number of delivery attempts that finished, by sink and result.",
		}, []string{"sink", "result"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Total number of events dropped before delivery, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Number of events waiting in the dispatch buffer.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "circuit_breaker_state",
			Help:      "Current sink circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"sink"}),
	}

	reg.MustRegister(m.Forwarded, m.Delivered, m.Dropped, m.QueueDepth, m.BreakerState)
	return m
}

func (m *DispatchMetrics) Accepted(sink string, depth int) {
	if m != nil {
		m.Forwarded.WithLabelValues(sink).Inc()
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *DispatchMetrics) Finished(sink string, err error, depth int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Delivered.WithLabelValues(sink, result).Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *DispatchMetrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *DispatchMetrics) SetBreakerState(sink string, state float64) {
	if m != nil {
		m.BreakerState.WithLabelValues(sink).Set(state)
	}
}
