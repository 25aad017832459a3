package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActorMetrics holds Prometheus metrics for the partition actor runtime.
// The "kind" label distinguishes runtimes (orders, notifications).
type ActorMetrics struct {
	ActivePartitions  *prometheus.GaugeVec
	Hydrations        *prometheus.CounterVec
	HydrationDuration *prometheus.HistogramVec
	MailboxDepth      *prometheus.GaugeVec
	CommandDuration   *prometheus.HistogramVec
	CommandPanics     *prometheus.CounterVec
	SweepsSkipped     *prometheus.CounterVec
	MailboxFullWaits  *prometheus.CounterVec
	Passivations      *prometheus.CounterVec
}

// NewActorMetrics creates and registers actor runtime metrics on the given registry.
func NewActorMetrics(reg prometheus.Registerer) *ActorMetrics {
	m := &ActorMetrics{
		ActivePartitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "active_partitions",
			Help:      "Number of hydrated partitions currently hosted.",
		}, []string{"kind"}),
		Hydrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "hydrations_total",
			Help:      "Total number of partition hydrations, by result.",
		}, []string{"kind", "result"}),
		HydrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "hydration_duration_seconds",
			Help:      "Duration of partition hydration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"kind"}),
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "mailbox_depth_max",
			Help:      "Deepest actor mailbox observed at the last sample.",
		}, []string{"kind"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "command_duration_seconds",
			Help:      "Time spent executing one actor command in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"kind"}),
		CommandPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "command_panics_total",
			Help:      "Total number of recovered panics inside actor commands.",
		}, []string{"kind"}),
		SweepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "sweeps_skipped_total",
			Help:      "Total number of sweeps not delivered because a mailbox was full.",
		}, []string{"kind"}),
		MailboxFullWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "mailbox_full_waits_total",
			Help:      "Total number of commands that had to wait for mailbox space.",
		}, []string{"kind"}),
		Passivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "passivations_total",
			Help:      "Total number of idle actors released.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.ActivePartitions, m.Hydrations, m.HydrationDuration, m.MailboxDepth,
		m.CommandDuration, m.CommandPanics, m.SweepsSkipped, m.MailboxFullWaits, m.Passivations)
	return m
}

func (m *ActorMetrics) Hydrated(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Hydrations.WithLabelValues(kind, result).Inc()
	m.HydrationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *ActorMetrics) SetActive(kind string, n int) {
	if m != nil {
		m.ActivePartitions.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *ActorMetrics) SetMailboxDepth(kind string, depth int) {
	if m != nil {
		m.MailboxDepth.WithLabelValues(kind).Set(float64(depth))
	}
}

func (m *ActorMetrics) CommandExecuted(kind string, d time.Duration) {
	if m != nil {
		m.CommandDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *ActorMetrics) Panicked(kind string) {
	if m != nil {
		m.CommandPanics.WithLabelValues(kind).Inc()
	}
}

func (m *ActorMetrics) SweepSkipped(kind string) {
	if m != nil {
		m.SweepsSkipped.WithLabelValues(kind).Inc()
	}
}

// MailboxFull counts a Do or Tell that found the mailbox full and blocked.
func (m *ActorMetrics) MailboxFull(kind string) {
	if m != nil {
		m.MailboxFullWaits.WithLabelValues(kind).Inc()
	}
}

func (m *ActorMetrics) Passivated(kind string) {
	if m != nil {
		m.Passivations.WithLabelValues(kind).Inc()
	}
}
