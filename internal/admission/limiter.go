package admission

import (
	"sync"
	"time"
)

// DefaultWindow is the rate-limit accounting window.
const DefaultWindow = 60 * time.Second

// bucket tracks one tenant's consumption inside the current window.
type bucket struct {
	requests    int
	tokens      int
	windowStart time.Time
}

func (b *bucket) expired(window time.Duration) bool {
	return time.Since(b.windowStart) >= window
}

func (b *bucket) reset() {
	b.requests = 0
	b.tokens = 0
	b.windowStart = time.Now()
}

// Result reports an admission decision.
type Result struct {
	Allowed    bool
	Reason     string        // "requests" or "tokens" when denied
	RetryAfter time.Duration // window remainder when denied
}

// WindowStatus is the live window state for a tenant, shaped for the
// rate-limit status endpoint.
type WindowStatus struct {
	Tier                 string `json:"tier"`
	RequestsUsed         int    `json:"requests_used"`
	RequestsLimit        int    `json:"requests_limit"`
	TokensUsed           int    `json:"tokens_used"`
	TokensLimit          int    `json:"tokens_limit"`
	WindowResetInSeconds int64  `json:"window_reset_in_seconds"`
	BurstAvailable       int    `json:"burst_available"`
}

// Limiter admits requests against fixed per-tenant windows. Buckets are
// created on first sight and evicted once idle for two windows.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
}

// NewLimiter creates a window limiter. A non-positive window falls back
// to the default 60s.
func NewLimiter(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
	}
}

// Allow checks and, when admitted, consumes quota for one request with
// the given token estimate. The multiplier scales the tier's effective
// limits for priority-elevated callers.
func (l *Limiter) Allow(tenant string, tier Tier, estimatedTokens int, multiplier float64) Result {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	rpm := int(float64(tier.RequestsPerMinute) * multiplier)
	tpm := int(float64(tier.TokensPerMinute) * multiplier)
	burst := int(float64(tier.BurstAllowance) * multiplier)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tenant]
	if !ok {
		b = &bucket{windowStart: time.Now()}
		l.buckets[tenant] = b
	}
	if b.expired(l.window) {
		b.reset()
	}

	remaining := l.window - time.Since(b.windowStart)
	if b.requests >= rpm+burst {
		return Result{Reason: "requests", RetryAfter: remaining}
	}
	if b.tokens+estimatedTokens > tpm {
		return Result{Reason: "tokens", RetryAfter: remaining}
	}

	b.requests++
	b.tokens += estimatedTokens
	return Result{Allowed: true}
}

// Status reports the tenant's current window without consuming quota.
// A missing or expired bucket reads as full capacity.
func (l *Limiter) Status(tenant string, tier Tier, multiplier float64) WindowStatus {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	rpm := int(float64(tier.RequestsPerMinute) * multiplier)
	tpm := int(float64(tier.TokensPerMinute) * multiplier)
	burst := int(float64(tier.BurstAllowance) * multiplier)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tenant]
	if !ok || b.expired(l.window) {
		return WindowStatus{
			Tier:                 tier.Name,
			RequestsLimit:        rpm,
			TokensLimit:          tpm,
			WindowResetInSeconds: int64(l.window.Seconds()),
			BurstAvailable:       burst,
		}
	}

	overage := b.requests - rpm
	if overage < 0 {
		overage = 0
	}
	burstLeft := burst - overage
	if burstLeft < 0 {
		burstLeft = 0
	}

	return WindowStatus{
		Tier:                 tier.Name,
		RequestsUsed:         b.requests,
		RequestsLimit:        rpm,
		TokensUsed:           b.tokens,
		TokensLimit:          tpm,
		WindowResetInSeconds: int64((l.window - time.Since(b.windowStart)).Seconds()),
		BurstAvailable:       burstLeft,
	}
}

// Sweep evicts buckets idle for at least two windows and reports how
// many remain.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for tenant, b := range l.buckets {
		if time.Since(b.windowStart) >= 2*l.window {
			delete(l.buckets, tenant)
		}
	}
	return len(l.buckets)
}
