// Package metrics exposes Prometheus counters for the render cache and a
// small HTTP server that serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Render results recorded in renders_total.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// Metrics groups the collectors of one process. Each instance owns its
// registry, so tests can create as many as they like. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	renderDedup    prometheus.Counter
	evictions      prometheus.Counter
	sweepErrors    prometheus.Counter
	sweepDuration  prometheus.Histogram
}

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Reads served from a cached PNG.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Reads that required a render.",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Render pipeline runs by result.",
		}, []string{"result"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Wall time of render pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		renderDedup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_dedup_total",
			Help:      "Cache-miss reads that shared one render with concurrent readers.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Cached PNGs removed by the sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Per-file errors skipped by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of sweep passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.renders,
		m.renderDuration,
		m.renderDedup,
		m.evictions,
		m.sweepErrors,
		m.sweepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) RenderDeduplicated() {
	if m != nil {
		m.renderDedup.Inc()
	}
}

// ObserveRender records one pipeline run.
func (m *Metrics) ObserveRender(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(result).Inc()
	m.renderDuration.Observe(d.Seconds())
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) SweepError() {
	if m != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.sweepDuration.Observe(d.Seconds())
	}
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer builds a server for m on addr.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
