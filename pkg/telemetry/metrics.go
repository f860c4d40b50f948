package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the script engine. A nil *Metrics
// and a disabled one are both valid no-op collectors.
type Metrics struct {
	config MetricsConfig

	// Compiler metrics
	compiles         *prometheus.CounterVec
	compileDuration  prometheus.Histogram
	compileStoreHits *prometheus.CounterVec

	// Module cache metrics
	moduleCache   *prometheus.CounterVec
	moduleLoads   *prometheus.CounterVec
	loadDuration  prometheus.Histogram
	invalidations *prometheus.CounterVec

	// Resolver metrics
	resolutions *prometheus.CounterVec

	// Discovery metrics
	discoveries  *prometheus.CounterVec
	thunkResults *prometheus.CounterVec

	// Runtime metrics
	activeRuntimes prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		compiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compiles_total",
				Help:      "Total number of compiler front end invocations",
			},
			[]string{"status"},
		),
		compileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of source compilation in seconds",
				Buckets:   buckets,
			},
		),
		compileStoreHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_store_lookups_total",
				Help:      "Persistent compile store lookups by result",
			},
			[]string{"result"},
		),

		moduleCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_lookups_total",
				Help:      "Module cache lookups by result",
			},
			[]string{"result"},
		),
		moduleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_loads_total",
				Help:      "Module body executions by status",
			},
			[]string{"kind", "status"},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_load_duration_seconds",
				Help:      "Duration of module loads in seconds",
				Buckets:   buckets,
			},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Cache invalidations by scope",
			},
			[]string{"scope"},
		),

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Specifier resolutions by result kind",
			},
			[]string{"kind"},
		),

		discoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discoveries_total",
				Help:      "Manifest discoveries by status",
			},
			[]string{"status"},
		),
		thunkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thunk_evaluations_total",
				Help:      "Manifest thunk evaluations by status",
			},
			[]string{"status"},
		),

		activeRuntimes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runtimes",
				Help:      "Current number of live script runtimes",
			},
		),
	}

	registry.MustRegister(
		m.compiles,
		m.compileDuration,
		m.compileStoreHits,
		m.moduleCache,
		m.moduleLoads,
		m.loadDuration,
		m.invalidations,
		m.resolutions,
		m.discoveries,
		m.thunkResults,
		m.activeRuntimes,
	)

	return m, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// Compiler Metrics

// RecordCompile records one compiler front end invocation.
func (m *Metrics) RecordCompile(duration time.Duration, err error) {
	if m == nil || m.compiles == nil {
		return
	}
	m.compiles.WithLabelValues(statusLabel(err)).Inc()
	m.compileDuration.Observe(duration.Seconds())
}

// RecordCompileStoreLookup records a persistent compile store lookup.
func (m *Metrics) RecordCompileStoreLookup(hit bool) {
	if m == nil || m.compileStoreHits == nil {
		return
	}
	m.compileStoreHits.WithLabelValues(hitLabel(hit)).Inc()
}

// Module Metrics

// RecordModuleCacheLookup records a module cache lookup.
func (m *Metrics) RecordModuleCacheLookup(hit bool) {
	if m == nil || m.moduleCache == nil {
		return
	}
	m.moduleCache.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordModuleLoad records the execution of one module body.
func (m *Metrics) RecordModuleLoad(kind string, duration time.Duration, err error) {
	if m == nil || m.moduleLoads == nil {
		return
	}
	m.moduleLoads.WithLabelValues(kind, statusLabel(err)).Inc()
	m.loadDuration.Observe(duration.Seconds())
}

// RecordInvalidation records a cache invalidation; scope is "path" or "all".
func (m *Metrics) RecordInvalidation(scope string) {
	if m == nil || m.invalidations == nil {
		return
	}
	m.invalidations.WithLabelValues(scope).Inc()
}

// RecordResolution records a resolution outcome by source kind, or
// "not_found".
func (m *Metrics) RecordResolution(kind string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(kind).Inc()
}

// Discovery Metrics

// RecordDiscovery records a manifest discovery.
func (m *Metrics) RecordDiscovery(err error) {
	if m == nil || m.discoveries == nil {
		return
	}
	m.discoveries.WithLabelValues(statusLabel(err)).Inc()
}

// RecordThunk records one thunk evaluation.
func (m *Metrics) RecordThunk(err error) {
	if m == nil || m.thunkResults == nil {
		return
	}
	m.thunkResults.WithLabelValues(statusLabel(err)).Inc()
}

// Runtime Metrics

// RuntimeOpened increments the live runtime gauge.
func (m *Metrics) RuntimeOpened() {
	if m == nil || m.activeRuntimes == nil {
		return
	}
	m.activeRuntimes.Inc()
}

// RuntimeClosed decrements the live runtime gauge.
func (m *Metrics) RuntimeClosed() {
	if m == nil || m.activeRuntimes == nil {
		return
	}
	m.activeRuntimes.Dec()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server can be shut down by the caller.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return server, nil
}
