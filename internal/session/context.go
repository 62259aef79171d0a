package session

import "context"

type contextKey struct{}

var sessionIDKey contextKey

// WithID attaches a session id to the request context. The API layer
// reads it from the X-Session-ID header or the request body.
func WithID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// IDFrom returns the session id attached to the context, or "".
func IDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}
