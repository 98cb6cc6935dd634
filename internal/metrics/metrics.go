// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - API endpoint latency and throughput
// - Authentication outcomes per backend and realm
// - External app token lifecycle
// - Proxied and outbound HTTP traffic
// - Refresh/userinfo cache efficiency
// - Circuit breakers

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)

	// Authentication Metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by backend and outcome",
		},
		[]string{"backend", "realm", "result"}, // result: success, no_credentials, invalid_credentials, realm_mismatch, unavailable
	)

	ForcedLogouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_forced_logouts_total",
			Help: "Sessions cleared because the IdP refused a refresh or userinfo call",
		},
		[]string{"reason"},
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Realm authorization decisions by action and outcome",
		},
		[]string{"action", "result"}, // result: allowed, denied
	)

	// External App Token Metrics
	AppTokenOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_token_operations_total",
			Help: "External app token validations and acquisitions",
		},
		[]string{"app", "operation", "result"}, // operation: validate, obtain
	)

	// Proxy Metrics
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Requests forwarded to external apps",
		},
		[]string{"app", "method", "status_code"},
	)

	ProxyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Round trip of proxied requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app"},
	)

	// Outbound HTTP Metrics
	OutboundRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_retries_total",
			Help: "Outbound HTTP attempts retried after a transport failure",
		},
		[]string{"host"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_token_cache_hits_total",
			Help: "Refresh/userinfo results served from cache",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_token_cache_misses_total",
			Help: "Refresh/userinfo results fetched from the IdP",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "user_token_cache_entries",
			Help: "Current number of cached refresh/userinfo results",
		},
		[]string{"cache"},
	)

	// Session Metrics
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Sessions removed by the cleanup sweeper",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAuthAttempt records the outcome of one authentication backend.
func RecordAuthAttempt(backend, realm, result string) {
	AuthAttempts.WithLabelValues(backend, realm, result).Inc()
}

// RecordForcedLogout records a session cleared by the IdP state machine.
func RecordForcedLogout(reason string) {
	ForcedLogouts.WithLabelValues(reason).Inc()
}

// RecordAuthzDecision records one enforcer decision.
func RecordAuthzDecision(action string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	AuthzDecisions.WithLabelValues(action, result).Inc()
}

// RecordAppTokenOperation records a validate or obtain call against an external app.
func RecordAppTokenOperation(app, operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	AppTokenOperations.WithLabelValues(app, operation, result).Inc()
}

// RecordProxyRequest records one proxied request.
func RecordProxyRequest(app, method, statusCode string, duration time.Duration) {
	ProxyRequests.WithLabelValues(app, method, statusCode).Inc()
	ProxyDuration.WithLabelValues(app).Observe(duration.Seconds())
}

// RecordOutboundRetry records a retried outbound attempt.
func RecordOutboundRetry(host string) {
	OutboundRetries.WithLabelValues(host).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}
