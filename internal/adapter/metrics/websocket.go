package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for push-channel connections.
type WebSocketMetrics struct {
	ActiveConnections   *prometheus.GaugeVec
	MessagesSent        *prometheus.CounterVec
	SessionsEvicted     *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections, by channel.",
		}, []string{"channel"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of messages handed to WebSocket writers, by channel.",
		}, []string{"channel"}),
		SessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions evicted from a registry, by reason.",
		}, []string{"reason"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of refused WebSocket upgrades, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.SessionsEvicted, m.ConnectionsRejected)
	return m
}

func (m *WebSocketMetrics) Connected(channel string) {
	if m != nil {
		m.ActiveConnections.WithLabelValues(channel).Inc()
	}
}

func (m *WebSocketMetrics) Disconnected(channel string) {
	if m != nil {
		m.ActiveConnections.WithLabelValues(channel).Dec()
	}
}

func (m *WebSocketMetrics) Sent(channel string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(channel).Inc()
	}
}

func (m *WebSocketMetrics) Evicted(reason string) {
	if m != nil {
		m.SessionsEvicted.WithLabelValues(reason).Inc()
	}
}

func (m *WebSocketMetrics) Rejected(reason string) {
	if m != nil {
		m.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}
