// Package admission gates requests before any provider work happens: a
// fixed-window rate limiter per tenant, a billing ledger with daily and
// monthly rollover, and a best-effort mirror of window state into the
// shared cache so replicas can inspect it.
package admission

import (
	"github.com/ghostkellz/omen/internal/config"
)

// Tier bundles the per-minute window limits and the daily billing limits
// of a plan. Nil pointer fields mean unlimited.
type Tier struct {
	Name              string   `json:"name"`
	RequestsPerMinute int      `json:"requests_per_minute"`
	TokensPerMinute   int      `json:"tokens_per_minute"`
	BurstAllowance    int      `json:"burst_allowance"`
	RequestsPerDay    *int     `json:"requests_per_day"`
	TokensPerDay      *int     `json:"tokens_per_day"`
	BudgetPerDayUSD   *float64 `json:"budget_per_day_usd"`
	CostMultiplier    float64  `json:"cost_multiplier"`
	PriorityWeight    float64  `json:"priority_weight"`
}

func intPtr(v int) *int             { return &v }
func float64Ptr(v float64) *float64 { return &v }

// BuiltinTiers returns the default plan table.
func BuiltinTiers() map[string]Tier {
	return map[string]Tier{
		"free": {
			Name:              "free",
			RequestsPerMinute: 20,
			TokensPerMinute:   2000,
			BurstAllowance:    5,
			RequestsPerDay:    intPtr(100),
			TokensPerDay:      intPtr(10000),
			BudgetPerDayUSD:   float64Ptr(1.0),
			CostMultiplier:    1.0,
			PriorityWeight:    1.0,
		},
		"pro": {
			Name:              "pro",
			RequestsPerMinute: 200,
			TokensPerMinute:   50000,
			BurstAllowance:    20,
			RequestsPerDay:    intPtr(10000),
			TokensPerDay:      intPtr(1000000),
			BudgetPerDayUSD:   float64Ptr(50.0),
			CostMultiplier:    0.8,
			PriorityWeight:    1.5,
		},
		"enterprise": {
			Name:              "enterprise",
			RequestsPerMinute: 1000,
			TokensPerMinute:   500000,
			BurstAllowance:    100,
			CostMultiplier:    0.6,
			PriorityWeight:    2.0,
		},
	}
}

// TiersFromConfig merges configured overrides over the builtin table.
// Unset numeric fields in an override keep the builtin value; pointer
// fields replace it outright so a tier can be made unlimited.
func TiersFromConfig(cfg config.AdmissionConfig) map[string]Tier {
	tiers := BuiltinTiers()
	builtinFree := tiers["free"]
	for name, tc := range cfg.Tiers {
		tier, ok := tiers[name]
		if !ok {
			// New tiers start from the free plan so an override that
			// only sets a budget still has sane window limits.
			tier = builtinFree
			tier.Name = name
		}
		if tc.RequestsPerMinute > 0 {
			tier.RequestsPerMinute = tc.RequestsPerMinute
		}
		if tc.TokensPerMinute > 0 {
			tier.TokensPerMinute = tc.TokensPerMinute
		}
		if tc.BurstAllowance > 0 {
			tier.BurstAllowance = tc.BurstAllowance
		}
		if tc.RequestsPerDay != nil {
			tier.RequestsPerDay = tc.RequestsPerDay
		}
		if tc.TokensPerDay != nil {
			tier.TokensPerDay = tc.TokensPerDay
		}
		if tc.BudgetPerDayUSD != nil {
			tier.BudgetPerDayUSD = tc.BudgetPerDayUSD
		}
		if tc.CostMultiplier > 0 {
			tier.CostMultiplier = tc.CostMultiplier
		}
		if tc.PriorityWeight > 0 {
			tier.PriorityWeight = tc.PriorityWeight
		}
		tiers[name] = tier
	}
	return tiers
}

// servicePriorities ranks the known internal callers. Unknown services
// rank as external.
var servicePriorities = map[string]uint8{
	"ghostllm":    255,
	"ghostflow":   200,
	"zeke":        180,
	"jarvis":      160,
	"external":    100,
	"development": 50,
}

// ServicePriority returns the priority for a calling service.
func ServicePriority(service string) uint8 {
	if p, ok := servicePriorities[service]; ok {
		return p
	}
	return 100
}

// limitMultiplier maps a service priority to the boost applied to its
// effective window limits.
func limitMultiplier(priority uint8) float64 {
	switch priority {
	case 255:
		return 5.0
	case 200:
		return 3.0
	case 180:
		return 2.5
	case 160:
		return 2.0
	default:
		return 1.0
	}
}
