package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiers() map[string]Tier {
	tiers := BuiltinTiers()
	tiers["tiny"] = Tier{
		Name:            "tiny",
		RequestsPerDay:  intPtr(2),
		TokensPerDay:    intPtr(100),
		BudgetPerDayUSD: float64Ptr(0.5),
		CostMultiplier:  1.0,
		PriorityWeight:  1.0,
	}
	return tiers
}

func TestLedger_RecordAppliesMultiplier(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)
	require.NoError(t, l.SetTier("user", "pro")) // 0.8 multiplier

	actual := l.Record("user", 100, 200, 0.05)
	assert.InDelta(t, 0.04, actual, 1e-9)

	stats := l.UsageStats("user")
	assert.Equal(t, 1, stats.DailyRequests)
	assert.Equal(t, 300, stats.DailyTokens)
	assert.InDelta(t, 0.04, stats.DailyCostUSD, 1e-9)
	assert.Equal(t, 300, stats.MonthlyTokens)
	// Monthly cost in stats is at provider price, before the discount.
	assert.InDelta(t, 0.05, stats.MonthlyCostUSD, 1e-9)
	assert.InDelta(t, 0.04, stats.TotalCostUSD, 1e-9)
}

func TestLedger_TotalIsSumOfActualCosts(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)
	require.NoError(t, l.SetTier("user", "enterprise")) // 0.6 multiplier

	var sum float64
	costs := []float64{0.01, 0.2, 0.003, 0.08}
	for _, c := range costs {
		sum += l.Record("user", 10, 20, c)
	}

	stats := l.UsageStats("user")
	assert.InDelta(t, sum, stats.TotalCostUSD, 1e-9)
}

func TestLedger_DailyLimits(t *testing.T) {
	t.Run("requests", func(t *testing.T) {
		l := NewLedger(testTiers(), "tiny", nil)

		l.Record("user", 1, 1, 0)
		l.Record("user", 1, 1, 0)

		ok, reason := l.CanMakeRequest("user")
		assert.False(t, ok)
		assert.Equal(t, "daily_requests", reason)
	})

	t.Run("tokens", func(t *testing.T) {
		l := NewLedger(testTiers(), "tiny", nil)

		l.Record("user", 60, 40, 0)

		ok, reason := l.CanMakeRequest("user")
		assert.False(t, ok)
		assert.Equal(t, "daily_tokens", reason)
	})

	t.Run("budget", func(t *testing.T) {
		l := NewLedger(testTiers(), "tiny", nil)

		l.Record("user", 1, 1, 0.6)

		ok, reason := l.CanMakeRequest("user")
		assert.False(t, ok)
		assert.Equal(t, "daily_budget", reason)
	})

	t.Run("unlimited tier never denies", func(t *testing.T) {
		l := NewLedger(BuiltinTiers(), "free", nil)
		require.NoError(t, l.SetTier("user", "enterprise"))

		for i := 0; i < 50; i++ {
			l.Record("user", 1000, 1000, 1.0)
		}

		ok, _ := l.CanMakeRequest("user")
		assert.True(t, ok)
	})
}

func TestLedger_DailyRollover(t *testing.T) {
	l := NewLedger(testTiers(), "tiny", nil)

	l.Record("user", 1, 1, 0)
	l.Record("user", 1, 1, 0)

	ok, _ := l.CanMakeRequest("user")
	require.False(t, ok)

	// Age the counters into yesterday.
	l.mu.Lock()
	l.accounts["user"].daily.lastReset = time.Now().AddDate(0, 0, -1)
	l.mu.Unlock()

	ok, _ = l.CanMakeRequest("user")
	assert.True(t, ok, "date change should zero daily counters")

	stats := l.UsageStats("user")
	assert.Equal(t, 0, stats.DailyRequests)
	assert.Equal(t, 0, stats.DailyTokens)
}

func TestLedger_MonthlyRollover(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	l.Record("user", 10, 10, 0.2)

	l.mu.Lock()
	l.accounts["user"].lastBillingDate = time.Now().AddDate(0, 0, -32)
	l.mu.Unlock()

	l.Record("user", 10, 10, 0.1)

	l.mu.RLock()
	monthly := l.accounts["user"].monthlySpendUSD
	total := l.accounts["user"].totalSpendUSD
	l.mu.RUnlock()

	assert.InDelta(t, 0.1, monthly, 1e-9, "month change should zero monthly spend first")
	assert.InDelta(t, 0.3, total, 1e-9, "total spend survives the monthly reset")
}

func TestLedger_UsageStatsFiltersHistoryByMonth(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	l.Record("user", 100, 100, 0.01)

	// Plant an old history entry.
	l.mu.Lock()
	l.history["user"] = append(l.history["user"], TokenUsage{
		InputTokens:     500,
		OutputTokens:    500,
		TotalTokens:     1000,
		ProviderCostUSD: 1.0,
		Timestamp:       time.Now().AddDate(0, 0, -64),
	})
	l.mu.Unlock()

	stats := l.UsageStats("user")
	assert.Equal(t, 200, stats.MonthlyTokens)
	assert.InDelta(t, 0.01, stats.MonthlyCostUSD, 1e-9)
}

func TestLedger_SetTier(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	require.NoError(t, l.SetTier("user", "pro"))
	assert.Equal(t, "pro", l.TierOf("user").Name)

	err := l.SetTier("user", "platinum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestLedger_EstimateCost(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	// free tier: no discount
	assert.InDelta(t, 0.06, l.EstimateCost("a", 2000, 0.03), 1e-9)

	require.NoError(t, l.SetTier("b", "pro"))
	assert.InDelta(t, 0.048, l.EstimateCost("b", 2000, 0.03), 1e-9)
}

func TestLedger_Summary(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	l.Record("beta", 10, 10, 0.02)
	l.Record("alpha", 10, 10, 0.01)

	summary := l.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, "alpha", summary[0].Tenant)
	assert.Equal(t, "beta", summary[1].Tenant)
	assert.InDelta(t, 0.02, summary[1].DailyCostUSD, 1e-9)
}

func TestLedger_Tiers(t *testing.T) {
	l := NewLedger(BuiltinTiers(), "free", nil)

	tiers := l.Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "enterprise", tiers[0].Name)
	assert.Equal(t, "free", tiers[1].Name)
	assert.Equal(t, "pro", tiers[2].Name)
}
