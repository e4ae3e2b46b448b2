// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts served requests by route template, method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfa_demo_http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration observes request latency by route template.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfa_demo_http_request_duration_seconds",
		Help:    "The HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ProviderCallsTotal counts identity provider calls by operation and outcome (ok, error).
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfa_demo_provider_calls_total",
		Help: "The total number of identity provider calls",
	}, []string{"operation", "outcome"})

	// ProviderCallDuration observes identity provider latency by operation.
	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfa_demo_provider_call_duration_seconds",
		Help:    "The identity provider call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// FlowTransitionsTotal counts states entered by the login, enrollment and challenge flows.
	FlowTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfa_demo_flow_transitions_total",
		Help: "The total number of flow state transitions",
	}, []string{"flow", "state"})

	// RateLimitedTotal counts form posts rejected by the per-client limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mfa_demo_rate_limited_total",
		Help: "The total number of rate limited requests",
	})
)
