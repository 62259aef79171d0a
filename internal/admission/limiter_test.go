package admission

import (
	"testing"
	"time"
)

func freeTier() Tier {
	return BuiltinTiers()["free"]
}

func TestLimiter_AllowWithinWindow(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	// rpm 20 + burst 5 requests fit in one window.
	for i := 0; i < 25; i++ {
		res := l.Allow("tenant", tier, 10, 1.0)
		if !res.Allowed {
			t.Fatalf("request %d denied: %s", i, res.Reason)
		}
	}

	res := l.Allow("tenant", tier, 10, 1.0)
	if res.Allowed {
		t.Fatal("request 26 should be denied")
	}
	if res.Reason != "requests" {
		t.Errorf("Reason = %q, want %q", res.Reason, "requests")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", res.RetryAfter)
	}
}

func TestLimiter_TokenLimit(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier() // 2000 tokens per minute

	if res := l.Allow("tenant", tier, 1500, 1.0); !res.Allowed {
		t.Fatal("first request should be admitted")
	}

	res := l.Allow("tenant", tier, 600, 1.0)
	if res.Allowed {
		t.Fatal("request pushing tokens past the limit should be denied")
	}
	if res.Reason != "tokens" {
		t.Errorf("Reason = %q, want %q", res.Reason, "tokens")
	}

	// A smaller request still fits.
	if res := l.Allow("tenant", tier, 500, 1.0); !res.Allowed {
		t.Fatal("request within remaining tokens should be admitted")
	}
}

func TestLimiter_Multiplier(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	// 5x multiplier lifts the cap to (20+5)*5 requests.
	for i := 0; i < 125; i++ {
		if res := l.Allow("tenant", tier, 0, 5.0); !res.Allowed {
			t.Fatalf("request %d denied with 5x multiplier", i)
		}
	}
	if res := l.Allow("tenant", tier, 0, 5.0); res.Allowed {
		t.Fatal("request beyond the boosted cap should be denied")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	for i := 0; i < 25; i++ {
		l.Allow("tenant", tier, 10, 1.0)
	}
	if res := l.Allow("tenant", tier, 10, 1.0); res.Allowed {
		t.Fatal("window should be exhausted")
	}

	// Age the window past its size.
	l.mu.Lock()
	l.buckets["tenant"].windowStart = time.Now().Add(-61 * time.Second)
	l.mu.Unlock()

	if res := l.Allow("tenant", tier, 10, 1.0); !res.Allowed {
		t.Fatal("expired window should reset and admit")
	}
}

func TestLimiter_TenantsIndependent(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	for i := 0; i < 25; i++ {
		l.Allow("tenant-a", tier, 0, 1.0)
	}
	if res := l.Allow("tenant-a", tier, 0, 1.0); res.Allowed {
		t.Fatal("tenant-a should be exhausted")
	}
	if res := l.Allow("tenant-b", tier, 0, 1.0); !res.Allowed {
		t.Fatal("tenant-b should be unaffected")
	}
}

func TestLimiter_Status(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	// Unknown tenant reads as full capacity.
	st := l.Status("tenant", tier, 1.0)
	if st.RequestsUsed != 0 || st.TokensUsed != 0 {
		t.Errorf("fresh status should be zero, got %+v", st)
	}
	if st.BurstAvailable != tier.BurstAllowance {
		t.Errorf("BurstAvailable = %d, want %d", st.BurstAvailable, tier.BurstAllowance)
	}

	for i := 0; i < 22; i++ {
		l.Allow("tenant", tier, 50, 1.0)
	}

	st = l.Status("tenant", tier, 1.0)
	if st.RequestsUsed != 22 {
		t.Errorf("RequestsUsed = %d, want 22", st.RequestsUsed)
	}
	if st.TokensUsed != 1100 {
		t.Errorf("TokensUsed = %d, want 1100", st.TokensUsed)
	}
	// 22 requests ate 2 of the 5 burst slots.
	if st.BurstAvailable != 3 {
		t.Errorf("BurstAvailable = %d, want 3", st.BurstAvailable)
	}
	if st.WindowResetInSeconds <= 0 || st.WindowResetInSeconds > 60 {
		t.Errorf("WindowResetInSeconds = %d, want within (0, 60]", st.WindowResetInSeconds)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(time.Minute)
	tier := freeTier()

	l.Allow("stale", tier, 0, 1.0)
	l.Allow("fresh", tier, 0, 1.0)

	l.mu.Lock()
	l.buckets["stale"].windowStart = time.Now().Add(-121 * time.Second)
	l.mu.Unlock()

	if active := l.Sweep(); active != 1 {
		t.Errorf("Sweep() = %d active, want 1", active)
	}

	l.mu.Lock()
	_, staleExists := l.buckets["stale"]
	_, freshExists := l.buckets["fresh"]
	l.mu.Unlock()

	if staleExists {
		t.Error("stale bucket should be evicted")
	}
	if !freshExists {
		t.Error("fresh bucket should survive")
	}
}

func TestLimitMultiplier(t *testing.T) {
	tests := []struct {
		priority uint8
		want     float64
	}{
		{255, 5.0},
		{200, 3.0},
		{180, 2.5},
		{160, 2.0},
		{100, 1.0},
		{50, 1.0},
		{0, 1.0},
	}

	for _, tt := range tests {
		if got := limitMultiplier(tt.priority); got != tt.want {
			t.Errorf("limitMultiplier(%d) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestServicePriority(t *testing.T) {
	if p := ServicePriority("ghostllm"); p != 255 {
		t.Errorf("ServicePriority(ghostllm) = %d, want 255", p)
	}
	if p := ServicePriority("development"); p != 50 {
		t.Errorf("ServicePriority(development) = %d, want 50", p)
	}
	// Unknown services rank as external.
	if p := ServicePriority("unknown-service"); p != 100 {
		t.Errorf("ServicePriority(unknown) = %d, want 100", p)
	}
}
