// Package observability records every routing decision and outcome,
// maintains the sliding-window counters behind the SLO gates, and exposes
// the Prometheus metric set.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Routing Metrics ────────────────────────────────────────────────────────

// DecisionsTotal tracks routing decisions by bucket and provider.
var DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "switchboard",
	Subsystem: "router",
	Name:      "decisions_total",
	Help:      "Total routing decisions by bucket and provider kind.",
}, []string{"bucket", "provider"})

// DecisionLatency tracks end-to-end execution latency.
var DecisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "switchboard",
	Subsystem: "router",
	Name:      "execution_ms",
	Help:      "End-to-end execution latency in milliseconds.",
	Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
}, []string{"bucket"})

// ExtractionLatency tracks feature-extraction latency.
var ExtractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "switchboard",
	Subsystem: "features",
	Name:      "extraction_ms",
	Help:      "Feature extraction latency in milliseconds.",
	Buckets:   []float64{1, 2, 5, 10, 15, 25, 50},
})

// EmbeddingFallbacks tracks deterministic-embedding substitutions.
var EmbeddingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "switchboard",
	Subsystem: "features",
	Name:      "embedding_fallbacks_total",
	Help:      "Total requests served by the deterministic embedding fallback.",
})

// ─── Fallback Metrics ───────────────────────────────────────────────────────

// FallbacksTotal tracks fallback attempts by reason.
var FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "switchboard",
	Subsystem: "engine",
	Name:      "fallbacks_total",
	Help:      "Total fallback attempts by reason.",
}, []string{"reason"})

// Anthropic429Total tracks observed Anthropic rate limits.
var Anthropic429Total = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "switchboard",
	Subsystem: "engine",
	Name:      "anthropic_429_total",
	Help:      "Total Anthropic-kind HTTP 429 responses observed.",
})

// FailoverMisfires tracks fallbacks that also failed.
var FailoverMisfires = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "switchboard",
	Subsystem: "engine",
	Name:      "failover_misfires_total",
	Help:      "Total fallback attempts that still failed.",
})

// LiveCooldowns tracks currently live cool-down entries.
var LiveCooldowns = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "switchboard",
	Subsystem: "engine",
	Name:      "live_cooldowns",
	Help:      "Number of users currently inside a cool-down window.",
})

// ProviderHealth tracks coarse provider health (1 healthy, 0.5 degraded, 0 unhealthy).
var ProviderHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "switchboard",
	Subsystem: "engine",
	Name:      "provider_health",
	Help:      "Coarse provider health (1 healthy, 0.5 degraded, 0 unhealthy).",
}, []string{"provider"})

// ─── Cost Metrics ───────────────────────────────────────────────────────────

// TaskCost tracks per-task dollar cost.
var TaskCost = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "switchboard",
	Subsystem: "router",
	Name:      "task_cost_usd",
	Help:      "Per-task cost in USD from catalog pricing.",
	Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"bucket"})
