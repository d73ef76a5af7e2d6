// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agtodo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agtodo_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	// DispatchTotal counts bridge dispatches by capability and result kind.
	// Names outside the registry are folded into capability="unknown".
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agtodo_dispatch_total",
			Help: "Capability dispatches by result kind",
		},
		[]string{"capability", "kind"},
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "agtodo_llm_latency_seconds",
			Help: "LLM round-trip latency in seconds",
		},
	)

	LLMErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agtodo_llm_errors_total",
			Help: "LLM calls that failed or timed out",
		},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agtodo_chat_turns_total",
			Help: "Chat turns by reply kind",
		},
		[]string{"reply"}, // "text" | "call" | "upstream_error"
	)
)
