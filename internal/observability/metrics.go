// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid; every Record method is a no-op on it.
type Metrics struct {
	// Task queue metrics
	TasksDispatched *prometheus.CounterVec
	TasksCompleted  *prometheus.CounterVec
	TaskAttempts    *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge

	// Monitor metrics
	NotificationsReceived prometheus.Counter
	DeltasEmitted         prometheus.Counter
	ActiveSubscriptions   prometheus.Gauge

	// Reconciler metrics
	EventsDropped *prometheus.CounterVec

	// Discovery metrics
	DiscoveriesAccepted *prometheus.CounterVec
	DiscoveriesRejected *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance registered with its own registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(namespace, reg)
	m.registry = reg
	return m
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_twin_mirror"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched by kind",
		}, []string{"kind"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed by kind and outcome",
		}, []string{"kind", "outcome"}),
		TaskAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_attempts_total",
			Help:      "Total number of handler attempts by kind",
		}, []string{"kind"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration including retries",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of tasks waiting to run",
		}),

		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received",
		}),
		DeltasEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "deltas_emitted_total",
			Help:      "Total number of non-zero balance deltas emitted",
		}),
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_subscriptions",
			Help:      "Number of live log subscriptions",
		}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "events_dropped_total",
			Help:      "Total number of balance events dropped by reason",
		}, []string{"reason"}),

		DiscoveriesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "discoveries_accepted_total",
			Help:      "Total number of accepted twin discoveries by target kind",
		}, []string{"kind"}),
		DiscoveriesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "discoveries_rejected_total",
			Help:      "Total number of rejected twin discoveries by reason",
		}, []string{"reason"}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// RecordDispatch counts a dispatched task and updates the depth gauge.
func (m *Metrics) RecordDispatch(kind string, depth int) {
	if m == nil {
		return
	}
	m.TasksDispatched.WithLabelValues(kind).Inc()
	m.QueueDepth.Set(float64(depth))
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordAttempt counts a handler attempt.
func (m *Metrics) RecordAttempt(kind string) {
	if m == nil {
		return
	}
	m.TaskAttempts.WithLabelValues(kind).Inc()
}

// RecordCompletion records a finished task.
func (m *Metrics) RecordCompletion(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.TasksCompleted.WithLabelValues(kind, outcome).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordNotification counts a received log notification.
func (m *Metrics) RecordNotification() {
	if m == nil {
		return
	}
	m.NotificationsReceived.Inc()
}

// RecordDelta counts an emitted balance delta.
func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasEmitted.Inc()
}

// SetActiveSubscriptions updates the subscription gauge.
func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(n))
}

// RecordDrop counts a dropped balance event.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordDiscovery counts an accepted or rejected discovery.
func (m *Metrics) RecordDiscovery(kind string, accepted bool, reason string) {
	if m == nil {
		return
	}
	if accepted {
		m.DiscoveriesAccepted.WithLabelValues(kind).Inc()
		return
	}
	m.DiscoveriesRejected.WithLabelValues(reason).Inc()
}

// ObserveRPC records RPC call latency. It matches the solana client observer signature.
func (m *Metrics) ObserveRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}
