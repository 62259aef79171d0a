package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAnonymousRPM is the per-IP allowance for unauthenticated
	// traffic.
	DefaultAnonymousRPM = 60
	// limiterIdleTTL is how long an idle bucket survives before the
	// sweeper drops it.
	limiterIdleTTL = 10 * time.Minute
)

// RateLimiter enforces the identity-attached allowances: a token bucket
// per client IP for anonymous traffic, and each key's requests-per-hour
// limit. Buckets are local to the instance; tenant-level windows are
// the admission controller's job.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time

	anonymousRPM   int
	trustedProxies []*net.IPNet

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiter creates a limiter. anonymousRPM <= 0 falls back to the
// default; trusted proxies control which forwarding headers are
// believed when resolving client IPs.
func NewRateLimiter(anonymousRPM int, trustedProxies []*net.IPNet) *RateLimiter {
	if anonymousRPM <= 0 {
		anonymousRPM = DefaultAnonymousRPM
	}

	rl := &RateLimiter{
		limiters:       make(map[string]*rate.Limiter),
		lastAccess:     make(map[string]time.Time),
		anonymousRPM:   anonymousRPM,
		trustedProxies: trustedProxies,
		stopCleanup:    make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(limiterIdleTTL / 2)
	go rl.cleanupLoop()

	return rl
}

// AllowAnonymous reports whether an unauthenticated request from this
// client may proceed.
func (rl *RateLimiter) AllowAnonymous(r *http.Request) bool {
	ip := ClientIP(r, rl.trustedProxies)
	if ip == "" {
		ip = "unknown"
	}

	limit := rate.Limit(float64(rl.anonymousRPM) / 60.0)
	burst := rl.anonymousRPM / 6
	if burst < 1 {
		burst = 1
	}
	return rl.bucket("ip:"+ip, limit, burst).Allow()
}

// AllowKey reports whether a request against the key's hourly allowance
// may proceed. Keys without a limit are never throttled here.
func (rl *RateLimiter) AllowKey(keyID string, perHour *int) bool {
	if perHour == nil || *perHour <= 0 {
		return true
	}

	limit := rate.Limit(float64(*perHour) / 3600.0)
	// Burst of a minute's worth so well-behaved clients are not
	// throttled between evenly spaced requests.
	burst := *perHour / 60
	if burst < 1 {
		burst = 1
	}
	return rl.bucket("key:"+keyID, limit, burst).Allow()
}

// bucket returns or creates the limiter for the subject.
func (rl *RateLimiter) bucket(subject string, limit rate.Limit, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[subject]
	if !ok {
		limiter = rate.NewLimiter(limit, burst)
		rl.limiters[subject] = limiter
	}
	rl.lastAccess[subject] = time.Now()
	return limiter
}

// Stats reports the number of live buckets and the anonymous allowance.
func (rl *RateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]any{
		"active_subjects": len(rl.limiters),
		"anonymous_rpm":   rl.anonymousRPM,
	}
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.sweep()
		case <-rl.stopCleanup:
			return
		}
	}
}

// sweep drops buckets that have been idle past the TTL.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for subject, last := range rl.lastAccess {
		if now.Sub(last) > limiterIdleTTL {
			delete(rl.limiters, subject)
			delete(rl.lastAccess, subject)
		}
	}
}
