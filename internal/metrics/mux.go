// Package metrics provides multiplexer and provider Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderState constants for provider health status.
const (
	ProviderStateHealthy  = 0 // Probe passing
	ProviderStateDegraded = 1 // Recent failures, still selectable
	ProviderStateFailed   = 2 // Probe failing, excluded from routing
)

// =============================================================================
// Multiplexer Metrics
// =============================================================================

var (
	// RaceWins counts races won per provider and strategy.
	RaceWins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mux_race_wins_total",
			Help:      "Races won by provider and strategy",
		},
		[]string{"strategy", "api_provider"},
	)

	// SpeculativeUpgrades counts one-shot upgrades to a stronger branch.
	SpeculativeUpgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mux_speculative_upgrades_total",
			Help:      "Speculative upgrades from one provider to another",
		},
		[]string{"from_provider", "to_provider"},
	)

	// BranchesLaunched counts multiplexer branches started.
	BranchesLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mux_branches_launched_total",
			Help:      "Multiplexer branches launched",
		},
		[]string{"strategy", "api_provider"},
	)

	// BranchSpend tracks spend per branch outcome. Losing branches are
	// recorded here and never billed to the tenant.
	BranchSpend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mux_branch_spend_total",
			Help:      "Spend in USD per multiplexer branch outcome",
		},
		[]string{"strategy", "api_provider", "outcome"}, // outcome: winner, loser
	)

	// BranchCancellations counts branches cancelled before completion.
	BranchCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mux_branch_cancellations_total",
			Help:      "Multiplexer branches cancelled before completion",
		},
		[]string{"strategy", "reason"}, // reason: budget, deadline, lost, client
	)

	// ActiveStreams tracks streams currently multiplexing.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mux_active_streams",
			Help:      "Number of currently active multiplexed streams",
		},
	)
)

// =============================================================================
// Provider Health Metrics
// =============================================================================

var (
	// ProviderState tracks provider health state.
	// 0 = healthy, 1 = degraded, 2 = failed
	ProviderState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_state",
			Help:      "Provider health state (0=healthy, 1=degraded, 2=failed)",
		},
		[]string{"api_provider"},
	)

	// ProviderAvgLatency tracks the router's smoothed latency estimate.
	ProviderAvgLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_avg_latency_ms",
			Help:      "Smoothed average latency per provider in milliseconds",
		},
		[]string{"api_provider"},
	)

	// ProviderSuccessRate tracks the router's smoothed success rate.
	ProviderSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_success_rate",
			Help:      "Smoothed success rate per provider (0.0 to 1.0)",
		},
		[]string{"api_provider"},
	)

	// ProviderLoad tracks the router's current load estimate.
	ProviderLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_load",
			Help:      "Current load estimate per provider (0.0 to 1.0)",
		},
		[]string{"api_provider"},
	)

	// ProviderHealthScore tracks the composite provider score.
	ProviderHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health_score",
			Help:      "Composite provider health score (0.0 to 1.0)",
		},
		[]string{"api_provider"},
	)

	// RouterSelections counts routing decisions per provider and intent.
	RouterSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_selections_total",
			Help:      "Routing decisions per provider and task intent",
		},
		[]string{"api_provider", "intent"},
	)
)

// =============================================================================
// Active Requests Metrics
// =============================================================================

var (
	// ActiveRequests tracks currently processing requests.
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests",
		},
		[]string{"model", "api_provider"},
	)
)
