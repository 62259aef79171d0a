package admission

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TokenUsage is one recorded completion in a tenant's history.
type TokenUsage struct {
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	TotalTokens     int       `json:"total_tokens"`
	ProviderCostUSD float64   `json:"provider_cost_usd"`
	Timestamp       time.Time `json:"timestamp"`
}

// dailyUsage tracks the running counters for the current UTC day.
type dailyUsage struct {
	requests  int
	tokens    int
	costUSD   float64
	lastReset time.Time
}

func (d *dailyUsage) rollover(now time.Time) {
	if now.UTC().Truncate(24 * time.Hour).After(d.lastReset.UTC().Truncate(24 * time.Hour)) {
		d.requests = 0
		d.tokens = 0
		d.costUSD = 0
		d.lastReset = now
	}
}

// account is one tenant's billing state.
type account struct {
	tenant          string
	tier            Tier
	daily           dailyUsage
	monthlySpendUSD float64
	totalSpendUSD   float64
	subscribedAt    time.Time
	lastBillingDate time.Time
}

func (a *account) rolloverMonthly(now time.Time, logger *slog.Logger) {
	if now.Year() != a.lastBillingDate.Year() || now.Month() != a.lastBillingDate.Month() {
		logger.Info("monthly billing reset",
			"tenant", a.tenant,
			"last_month_spend_usd", a.monthlySpendUSD)
		a.monthlySpendUSD = 0
		a.lastBillingDate = now
	}
}

// canMakeRequest checks the account against any set daily limit and
// returns the first crossed limit's reason.
func (a *account) canMakeRequest() (bool, string) {
	if a.tier.RequestsPerDay != nil && a.daily.requests >= *a.tier.RequestsPerDay {
		return false, "daily_requests"
	}
	if a.tier.TokensPerDay != nil && a.daily.tokens >= *a.tier.TokensPerDay {
		return false, "daily_tokens"
	}
	if a.tier.BudgetPerDayUSD != nil && a.daily.costUSD >= *a.tier.BudgetPerDayUSD {
		return false, "daily_budget"
	}
	return true, ""
}

// UsageStats is a tenant's consolidated usage, shaped for the billing
// usage endpoint.
type UsageStats struct {
	Tenant         string  `json:"user_id"`
	Tier           string  `json:"tier"`
	DailyRequests  int     `json:"daily_requests"`
	DailyTokens    int     `json:"daily_tokens"`
	DailyCostUSD   float64 `json:"daily_cost_usd"`
	MonthlyTokens  int     `json:"monthly_tokens"`
	MonthlyCostUSD float64 `json:"monthly_cost_usd"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	DailyLimits    Limits  `json:"daily_limits"`
	CanMakeRequest bool    `json:"can_make_request"`
}

// Limits is the optional daily ceiling set of a tier.
type Limits struct {
	Requests  *int     `json:"requests"`
	Tokens    *int     `json:"tokens"`
	BudgetUSD *float64 `json:"budget_usd"`
}

// TenantSummary is one row of the admin billing overview.
type TenantSummary struct {
	Tenant          string    `json:"user_id"`
	Tier            string    `json:"tier"`
	DailyCostUSD    float64   `json:"daily_cost_usd"`
	MonthlySpendUSD float64   `json:"monthly_spend_usd"`
	TotalSpendUSD   float64   `json:"total_spend_usd"`
	LastActivity    time.Time `json:"last_activity"`
}

// Ledger tracks per-tenant spend with daily and monthly rollover.
// Accounts are created on first sight in the default tier.
type Ledger struct {
	mu          sync.RWMutex
	accounts    map[string]*account
	history     map[string][]TokenUsage
	tiers       map[string]Tier
	defaultTier string
	logger      *slog.Logger
}

// NewLedger creates a ledger over the given tier table.
func NewLedger(tiers map[string]Tier, defaultTier string, logger *slog.Logger) *Ledger {
	if len(tiers) == 0 {
		tiers = BuiltinTiers()
	}
	if _, ok := tiers[defaultTier]; !ok {
		defaultTier = "free"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts:    make(map[string]*account),
		history:     make(map[string][]TokenUsage),
		tiers:       tiers,
		defaultTier: defaultTier,
		logger:      logger,
	}
}

// getOrCreate must be called with the write lock held.
func (l *Ledger) getOrCreate(tenant string) *account {
	a, ok := l.accounts[tenant]
	if !ok {
		now := time.Now()
		a = &account{
			tenant:          tenant,
			tier:            l.tiers[l.defaultTier],
			daily:           dailyUsage{lastReset: now},
			subscribedAt:    now,
			lastBillingDate: now,
		}
		l.accounts[tenant] = a
	}
	return a
}

// TierOf returns the tenant's tier, creating the account if needed.
func (l *Ledger) TierOf(tenant string) Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrCreate(tenant).tier
}

// SetTier moves a tenant to a named tier.
func (l *Ledger) SetTier(tenant, tierName string) error {
	tier, ok := l.tiers[tierName]
	if !ok {
		return fmt.Errorf("unknown tier: %s", tierName)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.getOrCreate(tenant)
	a.tier = tier
	l.logger.Info("tenant tier updated", "tenant", tenant, "tier", tierName)
	return nil
}

// CanMakeRequest pre-checks the tenant's daily limits. Rollover is
// observed before the check so a stale counter never denies.
func (l *Ledger) CanMakeRequest(tenant string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getOrCreate(tenant)
	a.daily.rollover(time.Now())
	return a.canMakeRequest()
}

// EstimateCost prices an upcoming request for the tenant with its tier
// discount applied.
func (l *Ledger) EstimateCost(tenant string, estimatedTokens int, providerCostPer1K float64) float64 {
	tier := l.TierOf(tenant)
	base := float64(estimatedTokens) / 1000.0 * providerCostPer1K
	return base * tier.CostMultiplier
}

// Record books a completed request and returns the actual cost charged
// (provider cost scaled by the tier multiplier).
func (l *Ledger) Record(tenant string, inputTokens, outputTokens int, providerCostUSD float64) float64 {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getOrCreate(tenant)
	a.daily.rollover(now)
	a.rolloverMonthly(now, l.logger)

	actualCost := providerCostUSD * a.tier.CostMultiplier
	tokens := inputTokens + outputTokens
	a.daily.requests++
	a.daily.tokens += tokens
	a.daily.costUSD += actualCost
	a.monthlySpendUSD += actualCost
	a.totalSpendUSD += actualCost

	l.history[tenant] = append(l.history[tenant], TokenUsage{
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TotalTokens:     tokens,
		ProviderCostUSD: providerCostUSD,
		Timestamp:       now,
	})

	l.logger.Debug("usage recorded",
		"tenant", tenant,
		"tokens", tokens,
		"cost_usd", actualCost)

	return actualCost
}

// UsageStats returns the tenant's consolidated usage. Monthly numbers
// are derived from the history at provider cost.
func (l *Ledger) UsageStats(tenant string) UsageStats {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getOrCreate(tenant)
	a.daily.rollover(now)

	var monthlyTokens int
	var monthlyCost float64
	for _, u := range l.history[tenant] {
		if u.Timestamp.Year() == now.Year() && u.Timestamp.Month() == now.Month() {
			monthlyTokens += u.TotalTokens
			monthlyCost += u.ProviderCostUSD
		}
	}

	ok, _ := a.canMakeRequest()
	return UsageStats{
		Tenant:         tenant,
		Tier:           a.tier.Name,
		DailyRequests:  a.daily.requests,
		DailyTokens:    a.daily.tokens,
		DailyCostUSD:   a.daily.costUSD,
		MonthlyTokens:  monthlyTokens,
		MonthlyCostUSD: monthlyCost,
		TotalCostUSD:   a.totalSpendUSD,
		DailyLimits: Limits{
			Requests:  a.tier.RequestsPerDay,
			Tokens:    a.tier.TokensPerDay,
			BudgetUSD: a.tier.BudgetPerDayUSD,
		},
		CanMakeRequest: ok,
	}
}

// Summary returns one row per known tenant, sorted by tenant id.
func (l *Ledger) Summary() []TenantSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]TenantSummary, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, TenantSummary{
			Tenant:          a.tenant,
			Tier:            a.tier.Name,
			DailyCostUSD:    a.daily.costUSD,
			MonthlySpendUSD: a.monthlySpendUSD,
			TotalSpendUSD:   a.totalSpendUSD,
			LastActivity:    a.daily.lastReset,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// Tiers lists the available tiers sorted by name.
func (l *Ledger) Tiers() []Tier {
	out := make([]Tier, 0, len(l.tiers))
	for _, t := range l.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
