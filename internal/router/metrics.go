// Package router scores providers for the request pipeline. It keeps a
// rolling per-provider view of latency, cost, and reliability, updated by
// exponential moving average as completions finish, and orders candidate
// sets by intent-weighted score.
package router

import (
	"sort"
	"sync"
)

// alpha is the EMA learning rate. One observation moves a metric 10%
// of the way toward the observed value.
const alpha = 0.10

// loadCapacity is the nominal in-flight request count that saturates a
// provider's load metric.
const loadCapacity = 10.0

// availabilityFloor is the availability a passing probe restores.
const availabilityFloor = 0.99

// ProviderMetrics is the router's rolling view of one provider.
// Rate and score fields are in [0, 1].
type ProviderMetrics struct {
	ProviderID      string  `json:"provider_id"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	SuccessRate     float64 `json:"success_rate"`
	CostPer1kTokens float64 `json:"cost_per_1k_tokens"`
	QualityScore    float64 `json:"quality_score"`
	CurrentLoad     float64 `json:"current_load"`
	Availability    float64 `json:"availability"`
}

// seedMetrics returns the starting view for a provider that has not
// completed a request yet, from known backend characteristics.
func seedMetrics(providerID string) ProviderMetrics {
	m := ProviderMetrics{
		ProviderID:      providerID,
		AvgLatencyMs:    1000,
		SuccessRate:     0.95,
		CostPer1kTokens: 0.01,
		QualityScore:    0.80,
		CurrentLoad:     0.5,
		Availability:    0.99,
	}
	switch providerID {
	case "ollama":
		m.AvgLatencyMs = 500
		m.CostPer1kTokens = 0
		m.QualityScore = 0.70
		m.Availability = 0.95
	case "openai":
		m.AvgLatencyMs = 1500
		m.CostPer1kTokens = 0.03
		m.QualityScore = 0.90
		m.Availability = 0.99
	case "anthropic":
		m.AvgLatencyMs = 1200
		m.CostPer1kTokens = 0.015
		m.QualityScore = 0.95
		m.Availability = 0.98
	case "google", "gemini":
		m.AvgLatencyMs = 1000
		m.CostPer1kTokens = 0.00125
		m.QualityScore = 0.85
		m.Availability = 0.97
	case "azure":
		m.AvgLatencyMs = 1800
		m.CostPer1kTokens = 0.03
		m.QualityScore = 0.90
		m.Availability = 0.99
	case "xai":
		m.AvgLatencyMs = 1300
		m.CostPer1kTokens = 0
		m.QualityScore = 0.80
		m.Availability = 0.95
	case "bedrock":
		m.AvgLatencyMs = 2000
		m.CostPer1kTokens = 0.015
		m.QualityScore = 0.90
		m.Availability = 0.99
	}
	return m
}

// Store holds per-provider metrics under one lock. All methods are safe
// for concurrent use.
type Store struct {
	mu      sync.RWMutex
	metrics map[string]*ProviderMetrics
	active  map[string]int
}

// NewStore creates an empty metrics store. Providers are seeded lazily
// on first access.
func NewStore() *Store {
	return &Store{
		metrics: make(map[string]*ProviderMetrics),
		active:  make(map[string]int),
	}
}

// Record folds one completed request into a provider's metrics. Cost is
// only observed when the token count is known, scaled to a per-1k rate.
func (s *Store) Record(providerID string, latencyMs int64, success bool, costUSD float64, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrSeed(providerID)

	m.AvgLatencyMs = m.AvgLatencyMs*(1-alpha) + float64(latencyMs)*alpha

	if success {
		m.SuccessRate = m.SuccessRate*(1-alpha) + alpha
	} else {
		m.SuccessRate = m.SuccessRate * (1 - alpha)
	}

	if tokens > 0 {
		costPer1k := costUSD / float64(tokens) * 1000
		m.CostPer1kTokens = m.CostPer1kTokens*(1-alpha) + costPer1k*alpha
	}
}

// ObserveHealth folds a probe verdict into a provider's availability.
// A passing probe lifts availability to at least the floor; a failing
// probe decays it toward zero at the EMA rate. Probe verdicts bypass
// the EMA on success so one good probe fully restores a provider.
func (s *Store) ObserveHealth(providerID string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrSeed(providerID)
	if healthy {
		if m.Availability < availabilityFloor {
			m.Availability = availabilityFloor
		}
		return
	}
	m.Availability *= 1 - alpha
}

// Get returns the current metrics for a provider. An unseen provider
// reads as its seed values without being stored.
func (s *Store) Get(providerID string) ProviderMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.metrics[providerID]; ok {
		return *m
	}
	return seedMetrics(providerID)
}

// All returns a snapshot of every tracked provider, sorted by id.
func (s *Store) All() []ProviderMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ProviderMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// BeginRequest marks a request in flight on a provider. Load is the
// in-flight count over a nominal capacity, clamped to one.
func (s *Store) BeginRequest(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[providerID]++
	s.getOrSeed(providerID).CurrentLoad = loadFor(s.active[providerID])
}

// EndRequest marks a request finished on a provider.
func (s *Store) EndRequest(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[providerID] > 0 {
		s.active[providerID]--
	}
	s.getOrSeed(providerID).CurrentLoad = loadFor(s.active[providerID])
}

// getOrSeed returns the stored metrics for a provider, inserting the
// seed values first if needed. Callers must hold the write lock.
func (s *Store) getOrSeed(providerID string) *ProviderMetrics {
	if m, ok := s.metrics[providerID]; ok {
		return m
	}
	seeded := seedMetrics(providerID)
	s.metrics[providerID] = &seeded
	return &seeded
}

func loadFor(active int) float64 {
	load := float64(active) / loadCapacity
	if load > 1 {
		return 1
	}
	return load
}
