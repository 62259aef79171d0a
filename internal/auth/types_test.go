package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyInfo_HasPermission(t *testing.T) {
	tests := []struct {
		name        string
		permissions []string
		required    string
		want        bool
	}{
		{"wildcard grants everything", []string{"*"}, "admin", true},
		{"exact match", []string{"chat", "models"}, "chat", true},
		{"missing permission", []string{"chat"}, "admin", false},
		{"no permissions", nil, "chat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &APIKeyInfo{Permissions: tt.permissions}
			assert.Equal(t, tt.want, key.HasPermission(tt.required))
		})
	}
}

func TestAPIKeyInfo_CanAccessModel(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		model   string
		want    bool
	}{
		{"empty allowlist permits all", nil, "gpt-4o", true},
		{"listed model", []string{"gpt-4o", "claude-sonnet-4"}, "gpt-4o", true},
		{"unlisted model", []string{"gpt-4o"}, "claude-sonnet-4", false},
		{"wildcard entry", []string{"*"}, "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &APIKeyInfo{AllowedModels: tt.allowed}
			assert.Equal(t, tt.want, key.CanAccessModel(tt.model))
		})
	}
}

func TestIdentity_NilSafety(t *testing.T) {
	var id *Identity
	assert.False(t, id.HasPermission("admin"))
	assert.False(t, id.CanAccessModel("gpt-4o"))
	assert.False(t, id.IsAdmin())
}

func TestIdentity_Admin(t *testing.T) {
	assert.True(t, masterIdentity().IsAdmin(), "master key is admin")

	service := &Identity{Tenant: "zeke", Method: MethodServiceJWT, Service: "zeke"}
	assert.False(t, service.IsAdmin(), "service tokens are not admin")

	admin := &Identity{Tenant: "ops", Permissions: []string{PermissionAdmin}}
	assert.True(t, admin.IsAdmin())
}

func TestIdentityForKey(t *testing.T) {
	rph := 100
	budget := 5.0
	key := &APIKeyInfo{
		ID:               "key-1",
		UserID:           "dev@example.com",
		Name:             "ci",
		Permissions:      []string{"chat"},
		AllowedModels:    []string{"gpt-4o"},
		RateLimitPerHour: &rph,
		BudgetUSDPerDay:  &budget,
	}

	id := identityForKey(key)
	assert.Equal(t, "dev@example.com", id.Tenant)
	assert.Equal(t, MethodAPIKey, id.Method)
	assert.Equal(t, "key-1", id.KeyID)
	assert.Equal(t, "ci", id.KeyName)
	assert.True(t, id.CanAccessModel("gpt-4o"))
	assert.False(t, id.CanAccessModel("o3"))
}
