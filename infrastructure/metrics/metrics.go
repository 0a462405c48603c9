// Package metrics provides Prometheus metrics collection for the Coordinator.
package metrics

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/coordinator/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics exposed by the Coordinator.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Registry metrics
	RegisteredServices *prometheus.GaugeVec
	RegistryMutations  *prometheus.CounterVec

	// Registration metrics
	RegistrationRequests prometheus.Counter
	RegistrationFailures prometheus.Counter

	// Routing metrics
	RoutingDuration  *prometheus.HistogramVec
	RoutingRequests  *prometheus.CounterVec
	RoutingFallbacks prometheus.Counter
	AICircuitState   prometheus.Gauge

	// Dispatch metrics
	CascadeAttempts       *prometheus.HistogramVec
	CascadeSuccessfulRank prometheus.Histogram
	CascadePrimarySuccess prometheus.Counter
	CascadeFallbackUsed   *prometheus.CounterVec
	CascadeExhausted      prometheus.Counter

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered against
// the default Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		RegisteredServices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordinator_registered_services",
				Help: "Current number of registered services by lifecycle state",
			},
			[]string{"state"},
		),
		RegistryMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_registry_mutations_total",
				Help: "Total number of registry mutations",
			},
			[]string{"operation", "status"},
		),

		RegistrationRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_registration_requests_total",
				Help: "Total number of service registration requests received",
			},
		),
		RegistrationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_registration_failures_total",
				Help: "Total number of service registration requests that failed",
			},
		),

		RoutingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_routing_duration_seconds",
				Help:    "Time spent ranking candidates for a route request",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"source"},
		),
		RoutingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_routing_requests_total",
				Help: "Total number of route requests by routing method and outcome",
			},
			[]string{"method", "status"},
		),
		RoutingFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_routing_fallback_total",
				Help: "Total number of times routing fell back to the keyword index",
			},
		),
		AICircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_ai_circuit_state",
				Help: "AI ranker circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),

		CascadeAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_cascade_attempts",
				Help:    "Number of candidates attempted before the cascade resolved",
				Buckets: []float64{1, 2, 3, 4, 5, 10},
			},
			[]string{"outcome"},
		),
		CascadeSuccessfulRank: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordinator_cascade_successful_rank",
				Help:    "Rank position (0-indexed) of the candidate that ultimately succeeded",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
			},
		),
		CascadePrimarySuccess: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_cascade_primary_success_total",
				Help: "Total cascades resolved by the top-ranked candidate",
			},
		),
		CascadeFallbackUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_cascade_fallback_used_total",
				Help: "Total cascades resolved by a non-primary candidate, by rank",
			},
			[]string{"rank"},
		),
		CascadeExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_cascade_exhausted_total",
				Help: "Total cascades that exhausted every candidate without an acceptable response",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.RegisteredServices,
			m.RegistryMutations,
			m.RegistrationRequests,
			m.RegistrationFailures,
			m.RoutingDuration,
			m.RoutingRequests,
			m.RoutingFallbacks,
			m.AICircuitState,
			m.CascadeAttempts,
			m.CascadeSuccessfulRank,
			m.CascadePrimarySuccess,
			m.CascadeFallbackUsed,
			m.CascadeExhausted,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// SetRegisteredServices sets the current count of registered services in a
// given lifecycle state ("pending_migration", "active", "inactive").
func (m *Metrics) SetRegisteredServices(state string, count int) {
	m.RegisteredServices.WithLabelValues(state).Set(float64(count))
}

// RecordRegistryMutation records a registry mutation (register, completeMigration, deleteAll, ...).
func (m *Metrics) RecordRegistryMutation(operation, status string) {
	m.RegistryMutations.WithLabelValues(operation, status).Inc()
}

// RecordRouting records the duration of a routing decision, keyed by the
// source that produced it ("ai" or "keyword").
func (m *Metrics) RecordRouting(source string, duration time.Duration) {
	m.RoutingDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRegistrationRequest records a service registration attempt.
func (m *Metrics) RecordRegistrationRequest() {
	m.RegistrationRequests.Inc()
}

// RecordRegistrationFailure records a service registration attempt that
// was rejected.
func (m *Metrics) RecordRegistrationFailure() {
	m.RegistrationFailures.Inc()
}

// RecordRoutingRequest records a /route request by the method that
// resolved it ("ai" or "keyword") and its outcome ("ok" or "error").
func (m *Metrics) RecordRoutingRequest(method, status string) {
	m.RoutingRequests.WithLabelValues(method, status).Inc()
}

// RecordRoutingFallback increments the fallback counter when the AIRanker is
// bypassed in favor of the KeywordIndex.
func (m *Metrics) RecordRoutingFallback() {
	m.RoutingFallbacks.Inc()
}

// SetAICircuitState mirrors the AI ranker's circuit breaker state.
func (m *Metrics) SetAICircuitState(state int) {
	m.AICircuitState.Set(float64(state))
}

// RecordCascadeAttempts records the number of candidates attempted for a
// cascade with the given terminal outcome.
func (m *Metrics) RecordCascadeAttempts(outcome string, attempts int) {
	m.CascadeAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordCascadeSuccess records a successful cascade resolving at rank
// (0-indexed), incrementing the primary/fallback counters accordingly.
func (m *Metrics) RecordCascadeSuccess(rank int) {
	m.CascadeSuccessfulRank.Observe(float64(rank))
	if rank == 0 {
		m.CascadePrimarySuccess.Inc()
	} else {
		m.CascadeFallbackUsed.WithLabelValues(strconv.Itoa(rank)).Inc()
	}
}

// RecordCascadeExhausted records a cascade that never found an acceptable response.
func (m *Metrics) RecordCascadeExhausted() {
	m.CascadeExhausted.Inc()
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
