package auth

import (
	"sync"
	"time"
)

// DailyUsage is one key's consumption for the current UTC day.
type DailyUsage struct {
	Requests  int64     `json:"requests_today"`
	Tokens    int64     `json:"tokens_today"`
	CostUSD   float64   `json:"cost_today_usd"`
	LastReset time.Time `json:"last_reset"`
}

// UsageTracker keeps per-key daily counters for budget enforcement and
// the billing endpoints. Counters roll over at UTC midnight.
type UsageTracker struct {
	mu    sync.Mutex
	usage map[string]*DailyUsage
	now   func() time.Time
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		usage: make(map[string]*DailyUsage),
		now:   time.Now,
	}
}

// current returns the live entry for the key, resetting it when the UTC
// day has rolled over. Callers must hold the lock.
func (t *UsageTracker) current(keyID string) *DailyUsage {
	now := t.now().UTC()

	u, ok := t.usage[keyID]
	if !ok {
		u = &DailyUsage{LastReset: now}
		t.usage[keyID] = u
		return u
	}

	if u.LastReset.YearDay() != now.YearDay() || u.LastReset.Year() != now.Year() {
		*u = DailyUsage{LastReset: now}
	}
	return u
}

// Record adds one completed request to the key's daily counters.
func (t *UsageTracker) Record(keyID string, tokens int, costUSD float64) {
	if keyID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.current(keyID)
	u.Requests++
	u.Tokens += int64(tokens)
	u.CostUSD += costUSD
}

// Usage returns the key's counters for the current UTC day.
func (t *UsageTracker) Usage(keyID string) DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.current(keyID)
}

// Allow reports whether the key is still under its daily budget. A nil
// budget never limits.
func (t *UsageTracker) Allow(keyID string, budgetUSD *float64) bool {
	if budgetUSD == nil || *budgetUSD <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(keyID).CostUSD < *budgetUSD
}

// BudgetFraction returns how much of the daily budget the key has
// spent, or 0 when it has no budget.
func (t *UsageTracker) BudgetFraction(keyID string, budgetUSD *float64) float64 {
	if budgetUSD == nil || *budgetUSD <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(keyID).CostUSD / *budgetUSD
}

// Snapshot returns the counters for every key seen today.
func (t *UsageTracker) Snapshot() map[string]DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]DailyUsage, len(t.usage))
	for keyID := range t.usage {
		out[keyID] = *t.current(keyID)
	}
	return out
}
