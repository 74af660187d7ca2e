// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by outcome (done, error code).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "turns_total",
		Help:      "Completed conversation turns by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes wall-clock turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assistant",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a full turn.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// ProviderCalls counts upstream model calls by status (ok, error, open).
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "provider_calls_total",
		Help:      "Upstream model provider calls by status.",
	}, []string{"status"})

	// BreakerTransitions counts circuit state transitions.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"from", "to"})

	// ToolExecutions counts tool runs by tool name and status
	// (ok, error, cache_hit, upgrade_required).
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "tool_executions_total",
		Help:      "Tool executions by tool and status.",
	}, []string{"tool", "status"})

	// TokensTotal counts provider tokens by direction (input, output).
	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "tokens_total",
		Help:      "Provider tokens consumed by direction.",
	}, []string{"direction"})

	// CostCentsTotal accumulates metered cost in cents.
	CostCentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "cost_cents_total",
		Help:      "Total metered usage cost in cents.",
	})
)

// ObserveToolResult records one tool execution outcome.
func ObserveToolResult(tool string, isErr, cacheHit bool, errCode string) {
	switch {
	case cacheHit:
		ToolExecutions.WithLabelValues(tool, "cache_hit").Inc()
	case isErr && errCode == "upgrade_required":
		ToolExecutions.WithLabelValues(tool, "upgrade_required").Inc()
	case isErr:
		ToolExecutions.WithLabelValues(tool, "error").Inc()
	default:
		ToolExecutions.WithLabelValues(tool, "ok").Inc()
	}
}
