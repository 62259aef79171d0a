package types //nolint:revive // package name is intentional

import "fmt"

// Multiplexing strategies accepted in the routing directive.
const (
	StrategySingle        = "single"
	StrategyRace          = "race"
	StrategySpeculateK    = "speculate_k"
	StrategyParallelMerge = "parallel_merge"
)

// Stickiness modes controlling provider affinity across turns.
const (
	StickinessNone    = "none"
	StickinessTurn    = "turn"
	StickinessSession = "session"
)

// Directive defaults applied by Normalize.
const (
	DefaultStrategy        = StrategySingle
	DefaultSpeculateK      = 2
	DefaultBudgetUSD       = 0.10
	DefaultMaxLatencyMS    = 3000
	DefaultStickiness      = StickinessTurn
	DefaultMinUsefulTokens = 5
)

// RoutingDirective is the optional "omen" request field. It steers the
// multiplexer on a per-request basis; absent fields fall back to defaults.
type RoutingDirective struct {
	// Strategy selects how many providers run and how a winner is chosen.
	Strategy string `json:"strategy,omitempty"`
	// K is the number of providers raced under speculate_k and parallel_merge.
	K int `json:"k,omitempty"`
	// Providers restricts candidate selection to an explicit allowlist.
	Providers []string `json:"providers,omitempty"`
	// BudgetUSD caps the estimated spend for this request.
	BudgetUSD float64 `json:"budget_usd,omitempty"`
	// MaxLatencyMS bounds the time to first committed token.
	MaxLatencyMS int `json:"max_latency_ms,omitempty"`
	// Stickiness pins follow-up turns to the previously committed provider.
	Stickiness string `json:"stickiness,omitempty"`
	// PriorityWeights boosts or penalizes individual provider scores.
	PriorityWeights map[string]float64 `json:"priority_weights,omitempty"`
	// MinUsefulTokens is the content length a chunk must reach to win a race.
	MinUsefulTokens int `json:"min_useful_tokens,omitempty"`
}

// Normalize returns a copy with defaults filled in. A nil directive
// yields the all-defaults directive.
func (d *RoutingDirective) Normalize() RoutingDirective {
	out := RoutingDirective{
		Strategy:        DefaultStrategy,
		K:               DefaultSpeculateK,
		BudgetUSD:       DefaultBudgetUSD,
		MaxLatencyMS:    DefaultMaxLatencyMS,
		Stickiness:      DefaultStickiness,
		MinUsefulTokens: DefaultMinUsefulTokens,
	}
	if d == nil {
		return out
	}
	if d.Strategy != "" {
		out.Strategy = d.Strategy
	}
	if d.K > 0 {
		out.K = d.K
	}
	if len(d.Providers) > 0 {
		out.Providers = d.Providers
	}
	if d.BudgetUSD > 0 {
		out.BudgetUSD = d.BudgetUSD
	}
	if d.MaxLatencyMS > 0 {
		out.MaxLatencyMS = d.MaxLatencyMS
	}
	if d.Stickiness != "" {
		out.Stickiness = d.Stickiness
	}
	if len(d.PriorityWeights) > 0 {
		out.PriorityWeights = d.PriorityWeights
	}
	if d.MinUsefulTokens > 0 {
		out.MinUsefulTokens = d.MinUsefulTokens
	}
	return out
}

// Validate rejects unknown strategy and stickiness values.
func (d *RoutingDirective) Validate() error {
	if d == nil {
		return nil
	}
	switch d.Strategy {
	case "", StrategySingle, StrategyRace, StrategySpeculateK, StrategyParallelMerge:
	default:
		return fmt.Errorf("unknown strategy %q", d.Strategy)
	}
	switch d.Stickiness {
	case "", StickinessNone, StickinessTurn, StickinessSession:
	default:
		return fmt.Errorf("unknown stickiness %q", d.Stickiness)
	}
	if d.K < 0 {
		return fmt.Errorf("k must not be negative")
	}
	if d.BudgetUSD < 0 {
		return fmt.Errorf("budget_usd must not be negative")
	}
	if d.MaxLatencyMS < 0 {
		return fmt.Errorf("max_latency_ms must not be negative")
	}
	return nil
}
