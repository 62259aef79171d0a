package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AnonymousBurst(t *testing.T) {
	rl := NewRateLimiter(60, nil)
	defer rl.Close()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"

	// 60 rpm gives a burst of 10.
	for i := 0; i < 10; i++ {
		assert.True(t, rl.AllowAnonymous(r), "request %d within burst", i)
	}
	assert.False(t, rl.AllowAnonymous(r), "burst exhausted")

	other := httptest.NewRequest("GET", "/", nil)
	other.RemoteAddr = "198.51.100.9:1000"
	assert.True(t, rl.AllowAnonymous(other), "limits are per client IP")
}

func TestRateLimiter_KeyAllowance(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	defer rl.Close()

	perHour := 120 // burst of 2
	assert.True(t, rl.AllowKey("key-1", &perHour))
	assert.True(t, rl.AllowKey("key-1", &perHour))
	assert.False(t, rl.AllowKey("key-1", &perHour))

	assert.True(t, rl.AllowKey("key-2", &perHour), "buckets are per key")
}

func TestRateLimiter_KeyWithoutLimit(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	defer rl.Close()

	for i := 0; i < 100; i++ {
		assert.True(t, rl.AllowKey("key-1", nil))
	}

	zero := 0
	assert.True(t, rl.AllowKey("key-1", &zero), "zero means unlimited")
}

func TestRateLimiter_Stats(t *testing.T) {
	rl := NewRateLimiter(30, nil)
	defer rl.Close()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	rl.AllowAnonymous(r)

	stats := rl.Stats()
	assert.Equal(t, 1, stats["active_subjects"])
	assert.Equal(t, 30, stats["anonymous_rpm"])
}
