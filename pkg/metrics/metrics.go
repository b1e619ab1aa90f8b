// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keygate"

// Metrics groups every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	verificationsTotal   *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	cacheRequestsTotal   *prometheus.CounterVec
	cacheEvictionsTotal  prometheus.Counter
	cacheSize            prometheus.Gauge
	rateLimitedTotal     prometheus.Counter
	tasksTotal           *prometheus.CounterVec
	breakerState         prometheus.Gauge
	keyEventsTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them with a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "verifications_total",
				Help:      "Total number of credential verifications by outcome",
			},
			[]string{"outcome", "source"},
		),
		verificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "verification_duration_seconds",
				Help:      "Duration of credential verifications",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),
		cacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Total number of key cache lookups by result",
			},
			[]string{"result"},
		),
		cacheEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of key cache evictions",
			},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "size",
				Help:      "Current number of cached keys",
			},
		),
		rateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "rejections_total",
				Help:      "Total number of requests rejected by the key rate limit",
			},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "total",
				Help:      "Total number of background tasks by result",
			},
			[]string{"result"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "breaker_state",
				Help:      "Store circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
		keyEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keys",
				Name:      "events_total",
				Help:      "Total number of key lifecycle events",
			},
			[]string{"action"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verificationsTotal,
		m.verificationDuration,
		m.cacheRequestsTotal,
		m.cacheEvictionsTotal,
		m.cacheSize,
		m.rateLimitedTotal,
		m.tasksTotal,
		m.breakerState,
		m.keyEventsTotal,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveVerification(outcome, source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(outcome, source).Inc()
	m.verificationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheRequestsTotal.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheRequestsTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) CacheEviction() {
	if m == nil {
		return
	}
	m.cacheEvictionsTotal.Inc()
}

func (m *Metrics) SetCacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

// Task records a background task result: done, failed or dropped.
func (m *Metrics) Task(result string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// KeyEvent records a key lifecycle action such as created or revoked.
func (m *Metrics) KeyEvent(action string) {
	if m == nil {
		return
	}
	m.keyEventsTotal.WithLabelValues(action).Inc()
}
