package router

import (
	"context"
	"sort"
)

// Fallbacks for providers with no probe verdict or model listing.
const (
	unknownLatencyMs = 5000
	unknownCostPer1k = 10.0
)

// ProviderHealth is one provider's status-endpoint row.
type ProviderHealth struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Healthy      bool    `json:"healthy"`
	ModelsCount  int     `json:"models_count"`
	LatencyMs    int64   `json:"latency_ms"`
	AvgCostPer1k float64 `json:"avg_cost_per_1k"`
	SuccessRate  float64 `json:"success_rate"`
}

// ProviderScore is the composite ranking surfaced to clients that pick
// their own provider.
type ProviderScore struct {
	ProviderID       string  `json:"provider_id"`
	ProviderName     string  `json:"provider_name"`
	HealthScore      float64 `json:"health_score"`
	LatencyMs        int64   `json:"latency_ms"`
	CostScore        float64 `json:"cost_score"`
	ReliabilityScore float64 `json:"reliability_score"`
	OverallScore     float64 `json:"overall_score"`
	Recommended      bool    `json:"recommended"`
}

// Health reports every registered provider's cached verdict, catalogue
// size, and smoothed success rate. Providers without a fresh verdict
// read as healthy with no latency data, matching selection behavior.
func (r *Router) Health(ctx context.Context) []ProviderHealth {
	providers := r.registry.All()
	out := make([]ProviderHealth, 0, len(providers))

	for _, p := range providers {
		row := ProviderHealth{
			ID:           p.ID(),
			Name:         p.Name(),
			Healthy:      r.Healthy(ctx, p.ID()),
			LatencyMs:    unknownLatencyMs,
			AvgCostPer1k: unknownCostPer1k,
			SuccessRate:  r.store.Get(p.ID()).SuccessRate,
		}

		if record, ok := r.healthRecord(ctx, p.ID()); ok && record.LatencyMs > 0 {
			row.LatencyMs = record.LatencyMs
		}

		if models, err := p.ListModels(ctx); err == nil && len(models) > 0 {
			row.ModelsCount = len(models)
			var total float64
			for _, m := range models {
				total += m.Pricing.InputPer1K
			}
			row.AvgCostPer1k = total / float64(len(models))
		}

		out = append(out, row)
	}
	return out
}

// Scores ranks providers on a 0-100 composite of health, latency, cost,
// and reliability, weighted 40/30/20/10. Sorted best first.
func (r *Router) Scores(ctx context.Context) []ProviderScore {
	rows := r.Health(ctx)
	out := make([]ProviderScore, 0, len(rows))

	for _, row := range rows {
		healthScore := 0.0
		if row.Healthy {
			healthScore = 100
		}
		latencyScore := clamp((5000-float64(row.LatencyMs))/50, 0, 100)
		costScore := clamp((20-row.AvgCostPer1k)/0.2, 0, 100)
		reliabilityScore := row.SuccessRate * 100

		overall := healthScore*0.4 + latencyScore*0.3 + costScore*0.2 + reliabilityScore*0.1

		out = append(out, ProviderScore{
			ProviderID:       row.ID,
			ProviderName:     row.Name,
			HealthScore:      healthScore,
			LatencyMs:        row.LatencyMs,
			CostScore:        costScore,
			ReliabilityScore: reliabilityScore,
			OverallScore:     overall,
			Recommended:      overall > 60 && row.Healthy,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OverallScore > out[j].OverallScore })
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
