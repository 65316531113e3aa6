package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "access_control"

// Metrics holds the Prometheus collectors of the access control plane.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	LockWait        prometheus.Histogram
	AuditDeliveries *prometheus.CounterVec
	AuditDropped    prometheus.Counter
}

// NewMetrics registers the collectors with reg. Passing nil registers them
// with the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Total number of access decisions by outcome and deny reason.",
		}, []string{"outcome", "reason"}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "mutations_total",
			Help:      "Total number of mutations by entity, action and outcome.",
		}, []string{"entity", "action", "outcome"}),
		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for entity locks.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		AuditDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "deliveries_total",
			Help:      "Total number of audit sink deliveries by outcome.",
		}, []string{"outcome"}), // outcome: delivered, retried, failed
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit entries not enqueued because the dispatch buffer was full.",
		}),
	}
}

// RecordDecision counts one access decision.
func (m *Metrics) RecordDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome, reason).Inc()
}

// RecordMutation counts one coordinated mutation.
func (m *Metrics) RecordMutation(entity, action, outcome string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(entity, action, outcome).Inc()
}

// ObserveLockWait records how long a mutation waited for its locks.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// RecordAuditDelivery counts one audit sink delivery attempt outcome.
func (m *Metrics) RecordAuditDelivery(outcome string) {
	if m == nil {
		return
	}
	m.AuditDeliveries.WithLabelValues(outcome).Inc()
}

// RecordAuditDropped counts an entry the dispatcher could not enqueue.
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}
