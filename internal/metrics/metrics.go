package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/marketplace-realtime/internal/bus"
	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/gateway"
	"github.com/ricirt/marketplace-realtime/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Connections     *prometheus.GaugeVec
	BusPublished    *prometheus.CounterVec
	BusReceived     *prometheus.CounterVec
	BusDropped      *prometheus.CounterVec
	JobsCompleted   *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec
	JobsRetried     *prometheus.CounterVec
	JobLatency      *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	CommandsLimited prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Currently open gateway connections.",
		}, []string{"namespace"}),

		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Messages published to the cross-process bus.",
		}, []string{"topic"}),

		BusReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_messages_received_total",
			Help: "Messages received from the cross-process bus.",
		}, []string{"topic"}),

		BusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_messages_dropped_total",
			Help: "Received bus messages dropped because they failed validation.",
		}, []string{"topic"}),

		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Jobs whose handler succeeded.",
		}, []string{"queue", "job_name"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Jobs moved to failed (attempts exhausted or permanent error).",
		}, []string{"queue", "job_name"}),

		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Failed attempts that were scheduled for another try.",
		}, []string{"queue", "job_name"}),

		JobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_processing_seconds",
			Help:    "Handler latency of successful jobs, from claim to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Jobs per queue and state at the last snapshot.",
		}, []string{"queue", "state"}),

		CommandsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_commands_rate_limited_total",
			Help: "Connection commands refused by the per-connection rate limit.",
		}),
	}

	reg.MustRegister(
		m.Connections,
		m.BusPublished,
		m.BusReceived,
		m.BusDropped,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobsRetried,
		m.JobLatency,
		m.QueueDepth,
		m.CommandsLimited,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnCompleted: func(queue, name string, latency time.Duration) {
			m.JobsCompleted.WithLabelValues(queue, name).Inc()
			m.JobLatency.WithLabelValues(queue).Observe(latency.Seconds())
		},
		OnFailed: func(queue, name string) {
			m.JobsFailed.WithLabelValues(queue, name).Inc()
		},
		OnRetried: func(queue, name string) {
			m.JobsRetried.WithLabelValues(queue, name).Inc()
		},
	}
}

// RouterHooks returns the bus router callbacks.
func (m *Metrics) RouterHooks() bus.RouterHooks {
	return bus.RouterHooks{
		OnReceived: func(topic string) { m.BusReceived.WithLabelValues(topic).Inc() },
		OnDropped:  func(topic string) { m.BusDropped.WithLabelValues(topic).Inc() },
	}
}

// OnPublished is passed to bus.NewPublisher.
func (m *Metrics) OnPublished(topic string) {
	m.BusPublished.WithLabelValues(topic).Inc()
}

// ObserveDepths updates the queue depth gauges from a reaper snapshot.
func (m *Metrics) ObserveDepths(depths map[string]domain.QueueDepth) {
	for queue, d := range depths {
		m.QueueDepth.WithLabelValues(queue, string(domain.JobWaiting)).Set(float64(d.Waiting))
		m.QueueDepth.WithLabelValues(queue, string(domain.JobDelayed)).Set(float64(d.Delayed))
		m.QueueDepth.WithLabelValues(queue, string(domain.JobActive)).Set(float64(d.Active))
		m.QueueDepth.WithLabelValues(queue, string(domain.JobCompleted)).Set(float64(d.Completed))
		m.QueueDepth.WithLabelValues(queue, string(domain.JobFailed)).Set(float64(d.Failed))
	}
}

// ConnectionOpened and ConnectionClosed track the live connection gauge.
func (m *Metrics) ConnectionOpened(namespace string) {
	m.Connections.WithLabelValues(namespace).Inc()
}

func (m *Metrics) ConnectionClosed(namespace string) {
	m.Connections.WithLabelValues(namespace).Dec()
}

func (m *Metrics) CommandRateLimited() {
	m.CommandsLimited.Inc()
}

// GatewayHooks returns the connection callbacks expected by gateway.Hooks.
func (m *Metrics) GatewayHooks() gateway.Hooks {
	return gateway.Hooks{
		OnConnect:     m.ConnectionOpened,
		OnDisconnect:  m.ConnectionClosed,
		OnRateLimited: m.CommandRateLimited,
	}
}
