// Package metrics provides Prometheus metrics export for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "intentgate"
	subsystem = "gateway"
)

// Recorder is the metrics surface used by gateway components.
type Recorder interface {
	RecordClassification(status, agreement string, latency time.Duration)
	RecordGate(outcome string)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordLimiter(outcome string)
	RecordBackendCall(backend string, latency time.Duration, success bool, errorType string)
	RecordBackendRetry(backend string)
	RecordLLMTokens(model, tokenType string, count int)
	RecordAlert(kind, outcome string)
	AddBackendsInFlight(delta float64)
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordClassification(string, string, time.Duration) {}
func (Nop) RecordGate(string) {}
func (Nop) RecordCacheHit(string) {}
func (Nop) RecordCacheMiss(string) {}
func (Nop) RecordLimiter(string) {}
func (Nop) RecordBackendCall(string, time.Duration, bool, string) {}
func (Nop) RecordBackendRetry(string) {}
func (Nop) RecordLLMTokens(string, string, int) {}
func (Nop) RecordAlert(string, string) {}
func (Nop) AddBackendsInFlight(float64) {}

// PrometheusExporter exports gateway metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Classification metrics
	classifyLatency  *prometheus.HistogramVec
	classifyRequests *prometheus.CounterVec

	// Admission metrics
	gateDecisions    *prometheus.CounterVec
	limiterDecisions *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Backend metrics
	backendCalls    *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	backendErrors   *prometheus.CounterVec
	backendRetries  *prometheus.CounterVec
	backendInFlight prometheus.Gauge
	llmTokensUsed   *prometheus.CounterVec

	// Alert metrics
	alerts *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 8, 12},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.classifyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classify_latency_seconds",
			Help:      "Classify call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.classifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classify_requests_total",
			Help:      "Total number of classify calls by outcome",
		},
		[]string{"status", "agreement"},
	)

	e.gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gate_decisions_total",
			Help:      "Message gate decisions",
		},
		[]string{"outcome"},
	)

	e.limiterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "limiter_decisions_total",
			Help:      "Usage limiter decisions",
		},
		[]string{"outcome"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_calls_total",
			Help:      "Total number of backend calls",
		},
		[]string{"backend", "status"},
	)

	e.backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_latency_seconds",
			Help:      "Backend call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"backend"},
	)

	e.backendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_errors_total",
			Help:      "Total number of backend errors",
		},
		[]string{"backend", "error_type"},
	)

	e.backendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_retries_total",
			Help:      "Total number of backend retries",
		},
		[]string{"backend"},
	)

	e.backendInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_calls_in_flight",
			Help:      "Number of backend calls currently running",
		},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_total",
			Help:      "Admin alerts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Register all metrics
	registry.MustRegister(
		e.classifyLatency,
		e.classifyRequests,
		e.gateDecisions,
		e.limiterDecisions,
		e.cacheHits,
		e.cacheMisses,
		e.backendCalls,
		e.backendLatency,
		e.backendErrors,
		e.backendRetries,
		e.backendInFlight,
		e.llmTokensUsed,
		e.alerts,
	)

	return e
}

// RecordClassification records the outcome of one Classify call.
func (e *PrometheusExporter) RecordClassification(status, agreement string, latency time.Duration) {
	e.classifyRequests.WithLabelValues(status, agreement).Inc()
	e.classifyLatency.WithLabelValues(status).Observe(latency.Seconds())
}

func (e *PrometheusExporter) RecordGate(outcome string) {
	e.gateDecisions.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (e *PrometheusExporter) RecordLimiter(outcome string) {
	e.limiterDecisions.WithLabelValues(outcome).Inc()
}

// RecordBackendCall records one backend attempt.
func (e *PrometheusExporter) RecordBackendCall(backend string, latency time.Duration, success bool, errorType string) {
	status := "success"
	if !success {
		status = "error"
		if errorType != "" {
			e.backendErrors.WithLabelValues(backend, errorType).Inc()
		}
	}

	e.backendCalls.WithLabelValues(backend, status).Inc()
	e.backendLatency.WithLabelValues(backend).Observe(latency.Seconds())
}

func (e *PrometheusExporter) RecordBackendRetry(backend string) {
	e.backendRetries.WithLabelValues(backend).Inc()
}

// RecordLLMTokens records LLM token usage.
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	e.llmTokensUsed.WithLabelValues(model, tokenType).Add(float64(count))
}

func (e *PrometheusExporter) RecordAlert(kind, outcome string) {
	e.alerts.WithLabelValues(kind, outcome).Inc()
}

func (e *PrometheusExporter) AddBackendsInFlight(delta float64) {
	e.backendInFlight.Add(delta)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

var _ Recorder = (*PrometheusExporter)(nil)
var _ Recorder = Nop{}
