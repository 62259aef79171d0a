package pipeline

import (
	"context"

	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/session"
)

// reqContext bundles the per-request identity facts every stage needs.
// Tenant is the billing and rate-limit subject; service drives admission
// priority; sessionID carries sticky-session affinity.
type reqContext struct {
	ctx       context.Context
	requestID string
	tenant    string
	service   string
	sessionID string
}

// newReqContext extracts the request facts from the context chain built
// by the middleware stack.
func newReqContext(ctx context.Context) reqContext {
	rc := reqContext{
		ctx:       ctx,
		requestID: observability.RequestIDFromContext(ctx),
		tenant:    auth.TenantFrom(ctx),
		sessionID: session.IDFrom(ctx),
	}
	if id := auth.IdentityFrom(ctx); id != nil {
		rc.service = id.Service
	}
	return rc
}

// cacheTenant returns the tenant to key cached responses under. Anonymous
// traffic is never cached, so it maps to the empty string.
func (rc reqContext) cacheTenant() string {
	if rc.tenant == auth.AnonymousTenant {
		return ""
	}
	return rc.tenant
}
