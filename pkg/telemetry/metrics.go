package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the toolkit. When disabled, all
// record methods are no-ops.
type Metrics struct {
	config MetricsConfig

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	stepsExecuted       *prometheus.CounterVec
	rollbacksExecuted   *prometheus.CounterVec

	// Graph metrics
	edgesDetected *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeOperations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of queries served from the resource cache",
			},
			[]string{"kind"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of queries that fell through to the provider",
			},
			[]string{"kind"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider CLI invocations",
			},
			[]string{"operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider CLI invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of failed provider CLI invocations",
			},
			[]string{"operation"},
		),
		providerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Total number of retried provider CLI invocations",
			},
			[]string{"operation"},
		),

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of operations started",
			},
			[]string{"capability", "operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of operations reaching a terminal status",
			},
			[]string{"status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operation execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of operation steps executed",
			},
			[]string{"status"},
		),
		rollbacksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_executed_total",
				Help:      "Total number of rollback sequences executed",
			},
			[]string{"status"},
		),

		edgesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_edges_detected_total",
				Help:      "Total number of dependency edges detected",
			},
			[]string{"resource_type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of running operations",
			},
		),
	}

	registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.providerRetries,
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.stepsExecuted,
		m.rollbacksExecuted,
		m.edgesDetected,
		m.errorsByClass,
		m.activeOperations,
	)

	return m, nil
}

// RecordCacheHit increments the cache hit counter. kind is "resource" or
// "list".
func (m *Metrics) RecordCacheHit(kind string) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss(kind string) {
	if m.cacheMisses == nil {
		return
	}
	m.cacheMisses.WithLabelValues(kind).Inc()
}

// RecordProviderCall records a provider invocation with its duration.
func (m *Metrics) RecordProviderCall(operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(operation).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderError records a failed provider invocation.
func (m *Metrics) RecordProviderError(operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(operation).Inc()
}

// RecordProviderRetry records a retried provider invocation.
func (m *Metrics) RecordProviderRetry(operation string) {
	if m.providerRetries == nil {
		return
	}
	m.providerRetries.WithLabelValues(operation).Inc()
}

// RecordOperationStarted increments the started counter and the active
// gauge.
func (m *Metrics) RecordOperationStarted(capability, operation string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(capability, operation).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a terminal operation with its status
// and duration.
func (m *Metrics) RecordOperationCompleted(status string, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(status).Inc()
	m.operationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordStepExecuted records one step execution.
func (m *Metrics) RecordStepExecuted(status string) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(status).Inc()
}

// RecordRollback records a rollback sequence execution.
func (m *Metrics) RecordRollback(status string) {
	if m.rollbacksExecuted == nil {
		return
	}
	m.rollbacksExecuted.WithLabelValues(status).Inc()
}

// RecordEdgesDetected records dependency edges detected for a resource
// type.
func (m *Metrics) RecordEdgesDetected(resourceType string, count int) {
	if m.edgesDetected == nil {
		return
	}
	m.edgesDetected.WithLabelValues(resourceType).Add(float64(count))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
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
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
