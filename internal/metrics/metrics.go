// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
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
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Authentication Metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total login attempts by role and result",
		},
		[]string{"role", "result"}, // result: success, invalid_credentials, error
	)

	SessionResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_resolves_total",
			Help: "Total session resolutions by result",
		},
		[]string{"result"}, // ok, invalid, error
	)

	SessionsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_cleaned_total",
			Help: "Total expired sessions removed by the janitor",
		},
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total authorization decisions by outcome and reason",
		},
		[]string{"decision", "reason"},
	)

	// Execution Metrics
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_runs_total",
			Help: "Total command executions by outcome",
		},
		[]string{"outcome"}, // success, failure, timeout, canceled, spawn_error, rejected
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exec_duration_seconds",
			Help:    "Wall-clock duration of command executions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_in_flight",
			Help: "Current number of running child processes",
		},
	)

	OutputTruncations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_output_truncations_total",
			Help: "Total executions whose output hit the ceiling",
		},
		[]string{"stream"}, // stdout, stderr
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
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Audit Metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total audit events by type",
		},
		[]string{"type"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		},
	)
)

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordLogin records a login attempt.
func RecordLogin(role, result string) {
	LoginAttempts.WithLabelValues(role, result).Inc()
}

// RecordSessionResolve records a session resolution.
func RecordSessionResolve(result string) {
	SessionResolves.WithLabelValues(result).Inc()
}

// RecordAuthzDecision records an authorization decision.
// reason is empty for allows.
func RecordAuthzDecision(allowed bool, reason string) {
	decision := "deny"
	if allowed {
		decision = "allow"
		reason = "none"
	}
	AuthzDecisions.WithLabelValues(decision, reason).Inc()
}

// RecordExecution records a finished execution.
func RecordExecution(outcome string, duration time.Duration, stdoutTruncated, stderrTruncated bool) {
	ExecutionsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		ExecutionDuration.Observe(duration.Seconds())
	}
	if stdoutTruncated {
		OutputTruncations.WithLabelValues("stdout").Inc()
	}
	if stderrTruncated {
		OutputTruncations.WithLabelValues("stderr").Inc()
	}
}
