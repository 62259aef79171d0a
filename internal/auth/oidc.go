package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// AdminGroup is the OIDC group that grants the wildcard permission.
const AdminGroup = "omen-admin"

// TokenVerifier verifies a bearer token and returns the identity it
// asserts. The production implementation is OIDCVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCVerifier verifies ID tokens against a configured issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ TokenVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the issuer and builds a verifier. An empty
// client ID skips audience checking.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer: %w", err)
	}

	cfg := &oidc.Config{ClientID: clientID}
	if clientID == "" {
		cfg.SkipClientIDCheck = true
	}

	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// Verify checks the token signature and expiry, then maps its claims to
// an identity.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email  string   `json:"email"`
		Groups []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return oidcIdentity(idToken.Subject, claims.Email, claims.Groups), nil
}

// oidcIdentity maps verified claims to a request principal. Membership
// in the admin group grants the wildcard permission.
func oidcIdentity(subject, email string, groups []string) *Identity {
	tenant := email
	if tenant == "" {
		tenant = subject
	}

	id := &Identity{
		Tenant: tenant,
		Method: MethodOIDC,
	}
	for _, g := range groups {
		if g == AdminGroup {
			id.Permissions = []string{PermissionAll}
			break
		}
	}
	return id
}
