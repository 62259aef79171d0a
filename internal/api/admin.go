package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/pkg/errors"
)

// BillingUsage handles GET /billing/usage. Tenants see their own
// ledger; the ?tenant= override and the all-tenants summary need the
// admin permission.
func (h *Handler) BillingUsage(w http.ResponseWriter, r *http.Request) {
	if h.admission == nil {
		h.writeError(w, errors.NewInternalError("", "", "admission control is not configured"))
		return
	}
	ledger := h.admission.Ledger()
	identity := auth.IdentityFrom(r.Context())
	self := auth.TenantFrom(r.Context())

	tenant := r.URL.Query().Get("tenant")
	switch {
	case tenant != "" && tenant != self:
		if !identity.HasPermission(auth.PermissionAdmin) {
			h.writeError(w, errors.NewAuthenticationError("", "", "admin permission required to view other tenants"))
			return
		}
		h.writeJSON(w, http.StatusOK, ledger.UsageStats(tenant))
	case r.URL.Query().Get("all") == "true":
		if !identity.HasPermission(auth.PermissionAdmin) {
			h.writeError(w, errors.NewAuthenticationError("", "", "admin permission required for the tenant summary"))
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"tenants": ledger.Summary()})
	default:
		h.writeJSON(w, http.StatusOK, ledger.UsageStats(self))
	}
}

// BillingTiers handles GET /billing/tiers.
func (h *Handler) BillingTiers(w http.ResponseWriter, _ *http.Request) {
	if h.admission == nil {
		h.writeError(w, errors.NewInternalError("", "", "admission control is not configured"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tiers": h.admission.Ledger().Tiers()})
}

// RateLimitStatus handles GET /rate-limit/status for the calling
// tenant's current window.
func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if h.admission == nil {
		h.writeError(w, errors.NewInternalError("", "", "admission control is not configured"))
		return
	}
	h.writeJSON(w, http.StatusOK, h.admission.RateLimitStatus(auth.TenantFrom(r.Context())))
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.responses.Enabled(),
		"stats":   h.responses.Stats(),
	})
}

// CacheClear handles POST /cache/clear.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.responses.Clear(r.Context())
	if err != nil {
		h.writeError(w, errors.NewInternalError("", "", "cache clear failed: "+err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

// Sessions handles GET /sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.writeError(w, errors.NewInternalError("", "", "session list failed: "+err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, errors.NewInvalidRequestError("", "", "session id is required"))
		return
	}
	if h.sessions == nil {
		h.writeError(w, errors.NewInternalError("", "", "session store is not configured"))
		return
	}
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.writeError(w, errors.NewInternalError("", "", "session delete failed: "+err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// mintKeyRequest is the POST /keys body.
type mintKeyRequest struct {
	UserID           string   `json:"user_id"`
	Name             string   `json:"name"`
	Permissions      []string `json:"permissions,omitempty"`
	AllowedModels    []string `json:"allowed_models,omitempty"`
	RateLimitPerHour *int     `json:"rate_limit_per_hour,omitempty"`
	BudgetUSDPerDay  *float64 `json:"budget_usd_per_day,omitempty"`
}

// MintKey handles POST /keys. The plaintext key appears exactly once,
// in this response.
func (h *Handler) MintKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, errors.NewInternalError("", "", "key store is not configured"))
		return
	}
	var req mintKeyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		h.writeError(w, errors.NewInvalidRequestError("", "", "user_id is required"))
		return
	}

	fullKey, hash, err := auth.MintKey()
	if err != nil {
		h.writeError(w, errors.NewInternalError("", "", "key generation failed"))
		return
	}
	info := &auth.APIKeyInfo{
		ID:               uuid.NewString(),
		KeyHash:          hash,
		KeyPrefix:        auth.ExtractKeyPrefix(fullKey),
		UserID:           req.UserID,
		Name:             req.Name,
		Permissions:      req.Permissions,
		AllowedModels:    req.AllowedModels,
		RateLimitPerHour: req.RateLimitPerHour,
		BudgetUSDPerDay:  req.BudgetUSDPerDay,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.keys.Create(r.Context(), info); err != nil {
		h.writeError(w, errors.NewInternalError("", "", "key store write failed: "+err.Error()))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"key":  fullKey,
		"info": info,
	})
}

// ListKeys handles GET /keys. Hashes never leave the store.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, errors.NewInternalError("", "", "key store is not configured"))
		return
	}
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.writeError(w, errors.NewInternalError("", "", "key list failed: "+err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// RevokeKey handles DELETE /keys/{id}.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, errors.NewInternalError("", "", "key store is not configured"))
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, errors.NewInvalidRequestError("", "", "key id is required"))
		return
	}
	if err := h.keys.Revoke(r.Context(), id); err != nil {
		h.writeError(w, errors.NewInternalError("", "", "key revoke failed: "+err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"revoked": id})
}
