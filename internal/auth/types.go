// Package auth resolves the identity behind every request: master key,
// stored API keys, HS256 service tokens, OIDC bearer tokens, or the
// anonymous tenant when authentication is optional.
package auth

import (
	"time"
)

// Permission strings checked by HasPermission. The wildcard grants
// everything, including admin routes.
const (
	PermissionAll   = "*"
	PermissionAdmin = "admin"
)

// AnonymousTenant is the tenant assigned to unauthenticated requests
// when authentication is optional.
const AnonymousTenant = "anonymous"

// APIKeyInfo describes a stored API key: who owns it, what it may do,
// and its per-key limits. The raw key is never stored, only its hash.
type APIKeyInfo struct {
	ID        string `json:"id"`
	KeyHash   string `json:"-"`
	KeyPrefix string `json:"key_prefix"`

	UserID string `json:"user_id"`
	Name   string `json:"name"`

	Permissions   []string `json:"permissions"`
	AllowedModels []string `json:"allowed_models,omitempty"` // empty = all models

	RateLimitPerHour *int     `json:"rate_limit_per_hour,omitempty"`
	BudgetUSDPerDay  *float64 `json:"budget_usd_per_day,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	Revoked   bool       `json:"revoked,omitempty"`
}

// HasPermission reports whether the key carries the required permission.
// The wildcard permission grants everything.
func (k *APIKeyInfo) HasPermission(required string) bool {
	for _, p := range k.Permissions {
		if p == PermissionAll || p == required {
			return true
		}
	}
	return false
}

// CanAccessModel reports whether the key may use the model. An empty
// allowlist means all models.
func (k *APIKeyInfo) CanAccessModel(model string) bool {
	if len(k.AllowedModels) == 0 {
		return true
	}
	for _, m := range k.AllowedModels {
		if m == model || m == PermissionAll {
			return true
		}
	}
	return false
}

// Method identifies how a request authenticated.
type Method string

const (
	MethodMasterKey  Method = "master_key"
	MethodAPIKey     Method = "api_key"
	MethodServiceJWT Method = "service_jwt"
	MethodOIDC       Method = "oidc"
	MethodAnonymous  Method = "anonymous"
)

// Identity is the resolved principal attached to a request. Tenant is
// the billing and rate-limit subject downstream layers key on.
type Identity struct {
	Tenant  string
	Method  Method
	KeyID   string
	KeyName string

	// Service is set by service JWTs and drives admission priority.
	Service string

	Permissions   []string
	AllowedModels []string

	RateLimitPerHour *int
	BudgetUSDPerDay  *float64
}

// HasPermission reports whether the identity carries the required
// permission.
func (id *Identity) HasPermission(required string) bool {
	if id == nil {
		return false
	}
	for _, p := range id.Permissions {
		if p == PermissionAll || p == required {
			return true
		}
	}
	return false
}

// CanAccessModel reports whether the identity may use the model.
func (id *Identity) CanAccessModel(model string) bool {
	if id == nil {
		return false
	}
	if len(id.AllowedModels) == 0 {
		return true
	}
	for _, m := range id.AllowedModels {
		if m == model || m == PermissionAll {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may call admin routes.
func (id *Identity) IsAdmin() bool {
	return id.HasPermission(PermissionAdmin)
}

// masterIdentity is the principal behind the configured master key.
func masterIdentity() *Identity {
	return &Identity{
		Tenant:      "admin",
		Method:      MethodMasterKey,
		KeyName:     "master",
		Permissions: []string{PermissionAll},
	}
}

// identityForKey builds the request principal from a stored key.
func identityForKey(key *APIKeyInfo) *Identity {
	return &Identity{
		Tenant:           key.UserID,
		Method:           MethodAPIKey,
		KeyID:            key.ID,
		KeyName:          key.Name,
		Permissions:      key.Permissions,
		AllowedModels:    key.AllowedModels,
		RateLimitPerHour: key.RateLimitPerHour,
		BudgetUSDPerDay:  key.BudgetUSDPerDay,
	}
}
