package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the masking service
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Masking Metrics
	MaskingTotal          *prometheus.CounterVec
	MaskingDuration       *prometheus.HistogramVec
	MaskingPayloadBytes   *prometheus.HistogramVec
	MaskingErrorsTotal    *prometheus.CounterVec
	DefaultFallbacksTotal *prometheus.CounterVec

	// Supporting infrastructure
	CacheLookupsTotal    *prometheus.CounterVec
	RateLimitedTotal     prometheus.Counter
	AuditFailuresTotal   prometheus.Counter
	ConfigReloadsTotal   *prometheus.CounterVec
	RuleTypesConfigured  prometheus.Gauge
	WebSocketConnections prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{registry: reg}
	r.initHTTPMetrics()
	r.initMaskingMetrics()
	r.initInfraMetrics()
	return r
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_masker_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "payload_masker_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)
}

func (r *Registry) initMaskingMetrics() {
	r.MaskingTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_masking_total",
			Help: "Total number of masked payloads",
		},
		[]string{"payload_type", "processor"},
	)

	r.MaskingDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_masker_masking_duration_seconds",
			Help:    "Time spent masking a payload in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"processor"},
	)

	r.MaskingPayloadBytes = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_masker_payload_size_bytes",
			Help:    "Size of masked payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		},
		[]string{"payload_type"},
	)

	r.MaskingErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_masking_errors_total",
			Help: "Total number of masking failures",
		},
		[]string{"reason"}, // invalid_input, parse, internal
	)

	r.DefaultFallbacksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_default_fallbacks_total",
			Help: "Payloads masked by the digit-run fallback because no rules matched",
		},
		[]string{"payload_type"},
	)
}

func (r *Registry) initInfraMetrics() {
	r.CacheLookupsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	r.RateLimitedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "payload_masker_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	r.AuditFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "payload_masker_audit_failures_total",
			Help: "Audit records that could not be written",
		},
	)

	r.ConfigReloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_masker_config_reloads_total",
			Help: "Configuration reloads",
		},
		[]string{"result"}, // success, error
	)

	r.RuleTypesConfigured = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "payload_masker_rule_types",
			Help: "Number of type keys with masking rules in the active rule set",
		},
	)

	r.WebSocketConnections = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "payload_masker_websocket_connections",
			Help: "Connected dashboard clients",
		},
	)
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMasking records one successful masking call
func (r *Registry) RecordMasking(payloadType, processor string, payloadBytes int, duration time.Duration) {
	r.MaskingTotal.WithLabelValues(payloadType, processor).Inc()
	r.MaskingDuration.WithLabelValues(processor).Observe(duration.Seconds())
	r.MaskingPayloadBytes.WithLabelValues(payloadType).Observe(float64(payloadBytes))
	if processor == "default" {
		r.DefaultFallbacksTotal.WithLabelValues(payloadType).Inc()
	}
}

// RecordMaskingError records a failed masking call
func (r *Registry) RecordMaskingError(reason string) {
	r.MaskingErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordCacheLookup records a result cache hit or miss
func (r *Registry) RecordCacheLookup(hit bool) {
	if hit {
		r.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordConfigReload records the outcome of a configuration reload
func (r *Registry) RecordConfigReload(err error, ruleTypes int) {
	if err != nil {
		r.ConfigReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	r.ConfigReloadsTotal.WithLabelValues("success").Inc()
	r.RuleTypesConfigured.Set(float64(ruleTypes))
}

// Handler exposes the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
