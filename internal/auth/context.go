package auth

import "context"

type contextKey struct{}

var identityKey contextKey

// WithIdentity attaches the resolved identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity resolved for the request, or nil
// when the request never passed the authenticator.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// TenantFrom returns the billing subject for the request, falling back
// to the anonymous tenant.
func TenantFrom(ctx context.Context) string {
	if id := IdentityFrom(ctx); id != nil && id.Tenant != "" {
		return id.Tenant
	}
	return AnonymousTenant
}
