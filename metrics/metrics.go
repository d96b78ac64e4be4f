// Package metrics exposes registry metrics on a dedicated prometheus server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeCommitted = "committed"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeUnknown   = "unknown"
)

// RegistryMetrics is safe to use as a nil pointer, which records nothing.
type RegistryMetrics struct {
	registrations          *prometheus.CounterVec
	projectionSyncFailures prometheus.Counter
	projectionSyncRepairs  prometheus.Counter
	syncBacklog            prometheus.Gauge
	finalityDuration       prometheus.Histogram
}

func NewRegistryMetrics(namespace string, reg prometheus.Registerer) (*RegistryMetrics, error) {
	m := &RegistryMetrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Certificate registrations by outcome.",
		}, []string{"outcome"}),
		projectionSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_sync_failures_total",
			Help:      "Projection writes that failed after a ledger commit.",
		}),
		projectionSyncRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_sync_repairs_total",
			Help:      "Projection records rewritten from ledger state.",
		}),
		syncBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projection_sync_backlog",
			Help:      "Certificates waiting for a projection retry.",
		}),
		finalityDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_finality_seconds",
			Help:      "Time from submission to observed finality.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}

	for _, c := range []prometheus.Collector{m.registrations, m.projectionSyncFailures, m.projectionSyncRepairs, m.syncBacklog, m.finalityDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *RegistryMetrics) RegistrationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *RegistryMetrics) ProjectionSyncFailed() {
	if m == nil {
		return
	}
	m.projectionSyncFailures.Inc()
}

func (m *RegistryMetrics) ProjectionRepaired() {
	if m == nil {
		return
	}
	m.projectionSyncRepairs.Inc()
}

func (m *RegistryMetrics) SetSyncBacklog(n int) {
	if m == nil {
		return
	}
	m.syncBacklog.Set(float64(n))
}

func (m *RegistryMetrics) ObserveFinality(d time.Duration) {
	if m == nil {
		return
	}
	m.finalityDuration.Observe(d.Seconds())
}

// MetricsServer serves the process registry on its own listener.
type MetricsServer struct {
	registry *prometheus.Registry
	metrics  *RegistryMetrics
	srv      *http.Server
}

func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := NewRegistryMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		metrics:  m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) Metrics() *RegistryMetrics {
	return s.metrics
}

func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
