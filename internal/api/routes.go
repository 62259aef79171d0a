package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostkellz/omen/internal/auth"
)

// RegisterRoutes registers every gateway route on the mux. Admin routes
// are gated on the admin permission; inference and introspection routes
// rely on the outer auth middleware alone.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// OpenAI-compatible inference surface.
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("POST /v1/completions", h.Completions)
	mux.HandleFunc("POST /v1/embeddings", h.Embeddings)
	mux.HandleFunc("GET /v1/models", h.Models)

	// Health and introspection.
	mux.HandleFunc("GET /health", h.Liveness)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /omen/providers", h.Providers)
	mux.HandleFunc("GET /omen/breakers", h.Breakers)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Tenant self-service.
	mux.HandleFunc("GET /billing/usage", h.BillingUsage)
	mux.HandleFunc("GET /billing/tiers", h.BillingTiers)
	mux.HandleFunc("GET /rate-limit/status", h.RateLimitStatus)

	// Admin surface.
	admin := auth.RequirePermission(auth.PermissionAdmin)
	mux.Handle("GET /cache/stats", admin(http.HandlerFunc(h.CacheStats)))
	mux.Handle("POST /cache/clear", admin(http.HandlerFunc(h.CacheClear)))
	mux.Handle("GET /sessions", admin(http.HandlerFunc(h.Sessions)))
	mux.Handle("DELETE /sessions/{id}", admin(http.HandlerFunc(h.DeleteSession)))
	mux.Handle("POST /keys", admin(http.HandlerFunc(h.MintKey)))
	mux.Handle("GET /keys", admin(http.HandlerFunc(h.ListKeys)))
	mux.Handle("DELETE /keys/{id}", admin(http.HandlerFunc(h.RevokeKey)))
}
