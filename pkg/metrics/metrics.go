// Package metrics holds the Prometheus collectors shared by the master
// and node runtimes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livespace"

// Metrics groups the livespace collectors.
type Metrics struct {
	transitions       *prometheus.CounterVec
	goalOutcomes      *prometheus.CounterVec
	lifecycleCalls    *prometheus.HistogramVec
	rollbacks         prometheus.Counter
	shutdownFailures  prometheus.Counter
	statusReports     *prometheus.CounterVec
	fleetNodes        prometheus.Gauge
	installedActivity prometheus.Gauge
}

// New registers the collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_transitions_total",
			Help:      "Confirmed activity state transitions by resulting state",
		}, []string{"state"}),
		goalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goal_outcomes_total",
			Help:      "Terminal goal transitioner outcomes",
		}, []string{"outcome"}),
		lifecycleCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_call_seconds",
			Help:      "Duration of guarded lifecycle calls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"method"}),
		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_rollbacks_total",
			Help:      "Resource startup sequences rolled back after a failure",
		}),
		shutdownFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_shutdown_failures_total",
			Help:      "Individual resource shutdown failures",
		}),
		statusReports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_reports_total",
			Help:      "Status reports sent or received by result",
		}, []string{"result"}),
		fleetNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_nodes",
			Help:      "Registered nodes in the fleet roster",
		}),
		installedActivity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "installed_activities",
			Help:      "Activities present in the installed roster",
		}),
	}
}

// Transition counts a confirmed state transition.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// GoalOutcome counts a terminal transitioner outcome.
func (m *Metrics) GoalOutcome(outcome string) {
	if m == nil {
		return
	}
	m.goalOutcomes.WithLabelValues(outcome).Inc()
}

// LifecycleCall observes the duration of one guarded call.
func (m *Metrics) LifecycleCall(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.lifecycleCalls.WithLabelValues(method).Observe(d.Seconds())
}

// Rollback counts a rolled-back startup sequence.
func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// ShutdownFailure counts one failed resource shutdown.
func (m *Metrics) ShutdownFailure() {
	if m == nil {
		return
	}
	m.shutdownFailures.Inc()
}

// StatusReport counts a status report by result ("sent", "failed", "received", "rejected").
func (m *Metrics) StatusReport(result string) {
	if m == nil {
		return
	}
	m.statusReports.WithLabelValues(result).Inc()
}

// SetFleetNodes records the fleet roster size.
func (m *Metrics) SetFleetNodes(n int) {
	if m == nil {
		return
	}
	m.fleetNodes.Set(float64(n))
}

// SetInstalled records the installed roster size.
func (m *Metrics) SetInstalled(n int) {
	if m == nil {
		return
	}
	m.installedActivity.Set(float64(n))
}
