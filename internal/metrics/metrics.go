// Package metrics holds the Prometheus collectors for the request gate and
// the event pipeline. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "knowledge"

type Metrics struct {
	registry *prometheus.Registry

	authDecisions   *prometheus.CounterVec
	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	poolQueueDepth  *prometheus.GaugeVec
	poolActive      *prometheus.GaugeVec
	poolCallerRuns  *prometheus.CounterVec
	poolRejected    *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Authorization decisions by outcome",
		}, []string{"decision"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the broker by routing key and result",
		}, []string{"routing_key", "result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Domain event deliveries by routing key and outcome",
		}, []string{"routing_key", "outcome"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_lettered_total",
			Help:      "Messages parked from the dead-letter queue",
		}, []string{"routing_key"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Time spent in event handlers",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}, []string{"routing_key"}),
		poolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_queue_depth",
			Help:      "Tasks waiting in a worker pool queue",
		}, []string{"pool"}),
		poolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active_tasks",
			Help:      "Tasks currently executing in a worker pool",
		}, []string{"pool"}),
		poolCallerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_pool_caller_runs_total",
			Help:      "Tasks executed on the submitting goroutine because the pool was saturated",
		}, []string{"pool"}),
		poolRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_pool_rejected_total",
			Help:      "Tasks rejected by a saturated or closed pool",
		}, []string{"pool"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authDecisions,
		m.published,
		m.consumed,
		m.deadLettered,
		m.handlerDuration,
		m.poolQueueDepth,
		m.poolActive,
		m.poolCallerRuns,
		m.poolRejected,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthDecision(decision string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Published(routingKey, result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(routingKey, result).Inc()
}

func (m *Metrics) Consumed(routingKey, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(routingKey, outcome).Inc()
}

func (m *Metrics) DeadLettered(routingKey string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(routingKey).Inc()
}

func (m *Metrics) ObserveHandler(routingKey string, seconds float64) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(routingKey).Observe(seconds)
}

func (m *Metrics) PoolQueueDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.poolQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

func (m *Metrics) PoolActive(pool string, delta float64) {
	if m == nil {
		return
	}
	m.poolActive.WithLabelValues(pool).Add(delta)
}

func (m *Metrics) PoolCallerRuns(pool string) {
	if m == nil {
		return
	}
	m.poolCallerRuns.WithLabelValues(pool).Inc()
}

func (m *Metrics) PoolRejected(pool string) {
	if m == nil {
		return
	}
	m.poolRejected.WithLabelValues(pool).Inc()
}

// CallerRunsCount reports how many tasks pool ran on the submitter.
func (m *Metrics) CallerRunsCount(pool string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.poolCallerRuns.WithLabelValues(pool))
}

// ConsumedCount reports deliveries for routingKey that ended in outcome.
func (m *Metrics) ConsumedCount(routingKey, outcome string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.consumed.WithLabelValues(routingKey, outcome))
}

// PublishedCount reports publishes for routingKey that ended in result.
func (m *Metrics) PublishedCount(routingKey, result string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.published.WithLabelValues(routingKey, result))
}

// DeadLetteredCount reports parked messages for routingKey.
func (m *Metrics) DeadLetteredCount(routingKey string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.deadLettered.WithLabelValues(routingKey))
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
