package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestIsCooldownRequired(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       bool
	}{
		// Should trigger cooldown
		{"rate limit 429", http.StatusTooManyRequests, true},
		{"unauthorized 401", http.StatusUnauthorized, true},
		{"timeout 408", http.StatusRequestTimeout, true},
		{"not found 404", http.StatusNotFound, true},
		{"internal error 500", http.StatusInternalServerError, true},
		{"bad gateway 502", http.StatusBadGateway, true},
		{"service unavailable 503", http.StatusServiceUnavailable, true},
		{"gateway timeout 504", http.StatusGatewayTimeout, true},

		// Should NOT trigger cooldown
		{"bad request 400", http.StatusBadRequest, false},
		{"forbidden 403", http.StatusForbidden, false},
		{"conflict 409", http.StatusConflict, false},
		{"unprocessable 422", http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsCooldownRequired(tt.statusCode)
			if got != tt.want {
				t.Errorf("IsCooldownRequired(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestGatewayError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := NewRateLimitError("openai", "gpt-4", "rate limit exceeded")
		msg := err.Error()

		if msg == "" {
			t.Error("error message should not be empty")
		}

		for _, s := range []string{"rate_limit_error", "openai", "gpt-4", "429"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("gateway-origin errors omit provider", func(t *testing.T) {
		err := NewBudgetExceededError("", "daily budget crossed")
		msg := err.Error()
		if strings.Contains(msg, "provider=") {
			t.Errorf("message should not mention provider, got %q", msg)
		}
	})

	t.Run("HTTP status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      *GatewayError
			wantCode int
		}{
			{"bad request", NewInvalidRequestError("p", "m", "msg"), 400},
			{"auth error", NewAuthenticationError("p", "m", "msg"), 401},
			{"budget exceeded", NewBudgetExceededError("m", "msg"), 403},
			{"model not found", NewModelNotFoundError("m", "msg"), 404},
			{"rate limit", NewRateLimitError("p", "m", "msg"), 429},
			{"internal", NewInternalError("p", "m", "msg"), 500},
			{"provider error", NewProviderError("p", "m", "msg"), 502},
			{"unavailable", NewProviderUnavailableError("m", "msg"), 503},
			{"timeout", NewTimeoutError("p", "m", "msg"), 504},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.HTTPStatusCode(); got != tt.wantCode {
					t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantCode)
				}
			})
		}
	})

	t.Run("retryable flag", func(t *testing.T) {
		retryable := []*GatewayError{
			NewRateLimitError("p", "m", "msg"),
			NewTimeoutError("p", "m", "msg"),
			NewProviderError("p", "m", "msg"),
			NewProviderUnavailableError("m", "msg"),
		}
		for _, err := range retryable {
			if !err.Retryable {
				t.Errorf("%s should be retryable", err.Type)
			}
		}

		notRetryable := []*GatewayError{
			NewInvalidRequestError("p", "m", "msg"),
			NewAuthenticationError("p", "m", "msg"),
			NewBudgetExceededError("m", "msg"),
			NewModelNotFoundError("m", "msg"),
			NewInternalError("p", "m", "msg"),
		}
		for _, err := range notRetryable {
			if err.Retryable {
				t.Errorf("%s should not be retryable", err.Type)
			}
		}
	})

	t.Run("retry after hint", func(t *testing.T) {
		err := NewRateLimitError("", "", "slow down").WithRetryAfter(42)
		if err.RetryAfterSec != 42 {
			t.Errorf("RetryAfterSec = %d, want 42", err.RetryAfterSec)
		}
	})
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "p", "m") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	orig := NewTimeoutError("ollama", "llama3", "deadline")
	wrapped := Wrap(fmt.Errorf("stream: %w", orig), "", "")
	if wrapped != orig {
		t.Error("Wrap should preserve an existing GatewayError through wrapping")
	}

	plain := Wrap(fmt.Errorf("boom"), "openai", "gpt-4")
	if plain.Type != TypeInternalError {
		t.Errorf("plain errors should map to internal, got %s", plain.Type)
	}
	if plain.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", plain.Provider)
	}
}

func TestAsGatewayError(t *testing.T) {
	ge, ok := AsGatewayError(fmt.Errorf("wrapped: %w", NewModelNotFoundError("gpt-9", "no such model")))
	if !ok {
		t.Fatal("expected GatewayError")
	}
	if ge.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", ge.StatusCode)
	}

	if _, ok := AsGatewayError(fmt.Errorf("plain")); ok {
		t.Error("plain error should not match")
	}
}
