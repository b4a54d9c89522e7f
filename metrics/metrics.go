package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isdmx/testbot/envcache"
)

const metricsNamespace = "testbot"

// 100ms -> 1h
var jobBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 3600}

// Metrics holds the collectors of one worker process.
type Metrics struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_total",
			Help:      "Number of finished jobs",
		}, []string{"kind", "final_state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Histogram for the job running time",
			Buckets:   jobBuckets,
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_errors_total",
			Help:      "Number of failed jobs by error kind",
		}, []string{"kind", "error_kind"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "environment_cache_events_total",
			Help:      "Environment cache lookups and publications",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		m.jobs, m.duration, m.errors, m.cache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveJob records a finished job. errorKind is empty for successes.
func (m *Metrics) ObserveJob(kind, finalState, errorKind string, d time.Duration) {
	m.jobs.WithLabelValues(kind, finalState).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
	if errorKind != "" {
		m.errors.WithLabelValues(kind, errorKind).Inc()
	}
}

// ObserveCache implements envcache.Observer.
func (m *Metrics) ObserveCache(event envcache.Event) {
	m.cache.WithLabelValues(string(event)).Inc()
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
