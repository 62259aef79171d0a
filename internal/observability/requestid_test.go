package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestContextWithRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "test-request-123")

	if got := RequestIDFromContext(ctx); got != "test-request-123" {
		t.Errorf("request id = %q, want test-request-123", got)
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("request id = %q, want empty without middleware", got)
	}
}

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	var capturedID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if capturedID == "" {
		t.Fatal("no request id in context")
	}
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", capturedID, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != capturedID {
		t.Errorf("response header = %q, want the context id %q", got, capturedID)
	}
}

func TestRequestIDMiddleware_PreservesClientID(t *testing.T) {
	var capturedID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-request-id-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedID != "existing-request-id-123" {
		t.Errorf("context id = %q, want the client's id kept", capturedID)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "existing-request-id-123" {
		t.Errorf("response header = %q, want the client's id echoed", got)
	}
}

func TestRequestIDMiddleware_ReplacesMalformedID(t *testing.T) {
	tests := []string{
		"has spaces in it",
		"semi;colon",
		strings.Repeat("x", maxRequestIDLen+1),
	}
	for _, bad := range tests {
		var capturedID string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedID = RequestIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if capturedID == bad {
			t.Errorf("malformed id %q was kept", bad)
		}
		if _, err := uuid.Parse(capturedID); err != nil {
			t.Errorf("replacement for %q is not a UUID: %q", bad, capturedID)
		}
	}
}
