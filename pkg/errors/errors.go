// Package errors defines unified error types for gateway operations.
// Provider failures, admission denials, and routing dead ends are all
// mapped to these standard error types before they reach a client.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// GatewayError represents a standardized error surfaced by the gateway.
// It contains all necessary information for error handling, logging, and client response.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`

	// RetryAfterSec is surfaced as a Retry-After header on 429 responses.
	RetryAfterSec int `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider == "" && e.Model == "" {
		return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// WithRetryAfter attaches a retry hint in seconds.
func (e *GatewayError) WithRetryAfter(seconds int) *GatewayError {
	e.RetryAfterSec = seconds
	return e
}

// Common error types as constants for consistency.
const (
	TypeInvalidRequest      = "invalid_request_error"
	TypeAuthentication      = "authentication_error"
	TypeBudgetExceeded      = "budget_exceeded_error"
	TypeNotFound            = "model_not_found_error"
	TypeRateLimit           = "rate_limit_error"
	TypeInternalError       = "internal_error"
	TypeProviderError       = "provider_error"
	TypeProviderUnavailable = "provider_unavailable_error"
	TypeTimeout             = "timeout_error"
)

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewBudgetExceededError creates a budget exceeded error (403).
func NewBudgetExceededError(model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypeBudgetExceeded,
		Model:      model,
		Retryable:  false,
	}
}

// NewModelNotFoundError creates a model not found error (404).
func NewModelNotFoundError(model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Model:      model,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewProviderError creates an upstream provider error (502).
func NewProviderError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeProviderError,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewProviderUnavailableError creates a provider unavailable error (503).
func NewProviderUnavailableError(model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeProviderUnavailable,
		Model:      model,
		Retryable:  true,
	}
}

// NewTimeoutError creates a deadline exceeded error (504).
func NewTimeoutError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusGatewayTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// AsGatewayError unwraps err to a *GatewayError if possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Wrap converts an arbitrary error to a GatewayError, preserving an
// existing one. A nil err yields nil.
func Wrap(err error, provider, model string) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := AsGatewayError(err); ok {
		return ge
	}
	return NewInternalError(provider, model, err.Error())
}

// IsCooldownRequired determines if a provider should be cooled down based on error.
// Rate limits, auth errors, timeouts, and not found errors trigger cooldown.
// Other 4xx errors do not trigger cooldown as they are likely client errors.
func IsCooldownRequired(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case http.StatusTooManyRequests, // 429
			http.StatusUnauthorized,   // 401
			http.StatusRequestTimeout, // 408
			http.StatusNotFound:       // 404
			return true
		default:
			return false
		}
	}
	return statusCode >= 500
}
