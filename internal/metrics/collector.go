// Package metrics provides a unified metrics collector for OMEN.
package metrics

import (
	"strconv"
	"time"
)

// Labels contains all possible label values for metrics.
type Labels struct {
	// Request context
	UserID  string
	Service string
	Tier    string

	// Model info
	RequestedModel string
	Model          string

	// Provider info
	APIProvider string

	// Multiplexer info
	Strategy string
	Intent   string

	// Error info
	StatusCode      int
	ExceptionStatus string
	ExceptionClass  string

	// Routing info
	Route string
}

// RequestMetrics contains metrics for a single request.
type RequestMetrics struct {
	Labels Labels

	// Timing
	StartTime    time.Time
	EndTime      time.Time
	TTFT         time.Duration // Time to first token
	OverheadTime time.Duration // Gateway processing overhead
	UpstreamTime time.Duration // Actual LLM API time

	// Tokens
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Cost
	Cost float64

	// Status
	Success   bool
	CacheHit  bool
	Streaming bool
}

// Collector provides methods to record metrics.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordRequest records all metrics for a completed request.
func (c *Collector) RecordRequest(m *RequestMetrics) {
	labels := m.Labels
	model := sanitizeModelLabel(labels.Model)
	statusCode := strconv.Itoa(labels.StatusCode)

	// Total requests
	RequestsTotal.WithLabelValues(
		model, labels.APIProvider, statusCode,
	).Inc()

	// Failed requests
	if !m.Success {
		RequestsFailed.WithLabelValues(
			model, labels.APIProvider, labels.ExceptionStatus, labels.ExceptionClass,
		).Inc()
	}

	// Total latency
	totalLatency := m.EndTime.Sub(m.StartTime).Seconds()
	RequestTotalLatency.WithLabelValues(
		model, labels.APIProvider,
	).Observe(totalLatency)

	// TTFT for streaming
	if m.Streaming && m.TTFT > 0 {
		TimeToFirstToken.WithLabelValues(
			model, labels.APIProvider,
		).Observe(m.TTFT.Seconds())
	}

	// Overhead latency
	if m.OverheadTime > 0 {
		OverheadLatency.WithLabelValues(labels.Route).Observe(m.OverheadTime.Seconds())
	}

	// Latency per output token
	if m.OutputTokens > 0 && m.UpstreamTime > 0 {
		latencyPerToken := m.UpstreamTime.Seconds() / float64(m.OutputTokens)
		LatencyPerOutputToken.WithLabelValues(
			model, labels.APIProvider,
		).Observe(latencyPerToken)
	}

	// Token metrics
	tokenLabels := []string{model, labels.APIProvider}

	if m.TotalTokens > 0 {
		TotalTokens.WithLabelValues(tokenLabels...).Add(float64(m.TotalTokens))
	}
	if m.InputTokens > 0 {
		InputTokens.WithLabelValues(tokenLabels...).Add(float64(m.InputTokens))
	}
	if m.OutputTokens > 0 {
		OutputTokens.WithLabelValues(tokenLabels...).Add(float64(m.OutputTokens))
	}

	// Cost
	if m.Cost > 0 {
		TotalSpend.WithLabelValues(tokenLabels...).Add(m.Cost)
		if labels.Tier != "" {
			TierSpend.WithLabelValues(labels.Tier).Add(m.Cost)
		}
	}

	// Cache accounting
	if m.CacheHit {
		CacheHits.WithLabelValues("response", model).Inc()
	}
}

// RecordCacheMiss records a response cache miss.
func (c *Collector) RecordCacheMiss(cacheType, model string) {
	CacheMisses.WithLabelValues(cacheType, sanitizeModelLabel(model)).Inc()
}

// RecordCacheSavedCost records cost avoided by serving from cache.
func (c *Collector) RecordCacheSavedCost(cacheType, model string, cost float64) {
	if cost > 0 {
		CacheSavedCost.WithLabelValues(cacheType, sanitizeModelLabel(model)).Add(cost)
	}
}

// RecordAdmissionDenial records a request denied by admission control.
func (c *Collector) RecordAdmissionDenial(tier, reason string) {
	AdmissionDenials.WithLabelValues(tier, reason).Inc()
}

// RecordRaceWin records a multiplexer race win.
func (c *Collector) RecordRaceWin(strategy, provider string) {
	RaceWins.WithLabelValues(strategy, provider).Inc()
}

// RecordUpgrade records a speculative upgrade between branches.
func (c *Collector) RecordUpgrade(fromProvider, toProvider string) {
	SpeculativeUpgrades.WithLabelValues(fromProvider, toProvider).Inc()
}

// RecordBranchLaunched records a multiplexer branch start.
func (c *Collector) RecordBranchLaunched(strategy, provider string) {
	BranchesLaunched.WithLabelValues(strategy, provider).Inc()
}

// RecordBranchSpend records spend attributed to a branch outcome.
// Losing branches are recorded but never billed.
func (c *Collector) RecordBranchSpend(strategy, provider, outcome string, cost float64) {
	if cost > 0 {
		BranchSpend.WithLabelValues(strategy, provider, outcome).Add(cost)
	}
}

// RecordBranchCancel records a branch cancelled before completion.
func (c *Collector) RecordBranchCancel(strategy, reason string) {
	BranchCancellations.WithLabelValues(strategy, reason).Inc()
}

// RecordStreamStart marks a multiplexed stream as active.
func (c *Collector) RecordStreamStart() {
	ActiveStreams.Inc()
}

// RecordStreamEnd marks a multiplexed stream as finished.
func (c *Collector) RecordStreamEnd() {
	ActiveStreams.Dec()
}

// RecordRouterSelection records a routing decision.
func (c *Collector) RecordRouterSelection(provider, intent string) {
	RouterSelections.WithLabelValues(provider, intent).Inc()
}

// UpdateProviderGauges updates the router's smoothed provider gauges.
func (c *Collector) UpdateProviderGauges(provider string, state int, avgLatencyMs, successRate, load, healthScore float64) {
	ProviderState.WithLabelValues(provider).Set(float64(state))
	ProviderAvgLatency.WithLabelValues(provider).Set(avgLatencyMs)
	ProviderSuccessRate.WithLabelValues(provider).Set(successRate)
	ProviderLoad.WithLabelValues(provider).Set(load)
	ProviderHealthScore.WithLabelValues(provider).Set(healthScore)
}

// RecordActiveRequest increments/decrements active request count.
func (c *Collector) RecordActiveRequest(model, provider string, delta float64) {
	ActiveRequests.WithLabelValues(sanitizeModelLabel(model), provider).Add(delta)
}

// UpdateMonthlyBudget updates the monthly routing budget gauges.
func (c *Collector) UpdateMonthlyBudget(spend, limit float64) {
	MonthlyBudgetSpend.Set(spend)
	if limit > 0 {
		MonthlyBudgetLimit.Set(limit)
	}
}
