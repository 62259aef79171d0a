package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/errors"
)

// Authenticator resolves the identity behind each request and enforces
// the limits that identity carries.
type Authenticator struct {
	store     KeyStore
	tracker   *UsageTracker
	limiter   *RateLimiter
	verifier  TokenVerifier
	masterKey string
	jwtSecret []byte
	required  bool
	skipPaths map[string]bool
	logger    *slog.Logger
}

// AuthenticatorConfig wires the authenticator's collaborators. Any of
// Store, Tracker, Limiter, and Verifier may be nil; the matching
// credential sources are then disabled.
type AuthenticatorConfig struct {
	Store     KeyStore
	Tracker   *UsageTracker
	Limiter   *RateLimiter
	Verifier  TokenVerifier
	MasterKey string
	JWTSecret []byte
	Required  bool
	SkipPaths []string
	Logger    *slog.Logger
}

// NewAuthenticator creates the authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		store:     cfg.Store,
		tracker:   cfg.Tracker,
		limiter:   cfg.Limiter,
		verifier:  cfg.Verifier,
		masterKey: cfg.MasterKey,
		jwtSecret: cfg.JWTSecret,
		required:  cfg.Required,
		skipPaths: skip,
		logger:    logger,
	}
}

// Tracker returns the usage tracker the authenticator records against.
func (a *Authenticator) Tracker() *UsageTracker {
	return a.tracker
}

// Middleware authenticates every request. Credential sources are tried
// in order: master key, HS256 service token, stored API key, OIDC
// bearer. Without credentials the request proceeds as the anonymous
// tenant when authentication is optional, behind the per-IP limiter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		credential := extractCredential(r)
		if credential == "" {
			a.serveAnonymous(w, r, next)
			return
		}

		identity, gerr := a.resolve(r.Context(), credential)
		if gerr != nil {
			writeAuthError(w, gerr)
			return
		}

		if identity.Method == MethodAPIKey {
			if gerr := a.enforceKeyLimits(identity); gerr != nil {
				writeAuthError(w, gerr)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// resolve maps a presented credential to an identity, or to the 401
// the caller should return.
func (a *Authenticator) resolve(ctx context.Context, credential string) (*Identity, *errors.GatewayError) {
	if a.masterKey != "" &&
		subtle.ConstantTimeCompare([]byte(credential), []byte(a.masterKey)) == 1 {
		return masterIdentity(), nil
	}

	// Service tokens and OIDC bearers are both JWTs; try the cheap
	// HMAC check first and fall through on failure.
	if len(a.jwtSecret) > 0 && strings.Count(credential, ".") == 2 {
		if identity, err := VerifyServiceToken(credential, a.jwtSecret); err == nil {
			return identity, nil
		}
	}

	if a.store != nil {
		key, err := a.store.GetByHash(ctx, HashKey(credential))
		if err != nil {
			a.logger.Error("api key lookup failed", "error", err)
			return nil, errors.NewInternalError("", "", "authentication backend unavailable")
		}
		if key != nil {
			if key.Revoked {
				return nil, errors.NewAuthenticationError("", "", "api key has been revoked")
			}
			a.touchLastUsed(key.ID)
			return identityForKey(key), nil
		}
	}

	if a.verifier != nil {
		if identity, err := a.verifier.Verify(ctx, credential); err == nil {
			return identity, nil
		}
	}

	a.logger.Warn("authentication failed", "key", MaskKey(credential))
	return nil, errors.NewAuthenticationError("", "", "invalid api key")
}

// enforceKeyLimits applies the key's own budget and rate allowances.
func (a *Authenticator) enforceKeyLimits(identity *Identity) *errors.GatewayError {
	if a.tracker != nil && !a.tracker.Allow(identity.KeyID, identity.BudgetUSDPerDay) {
		return errors.NewBudgetExceededError("", "daily budget exceeded for this api key")
	}
	if a.limiter != nil && !a.limiter.AllowKey(identity.KeyID, identity.RateLimitPerHour) {
		return errors.NewRateLimitError("", "", "rate limit exceeded for this api key").WithRetryAfter(60)
	}
	return nil
}

// serveAnonymous handles requests that presented no credential.
func (a *Authenticator) serveAnonymous(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if a.required {
		writeAuthError(w, errors.NewAuthenticationError("", "", "missing api key"))
		return
	}

	if a.limiter != nil && !a.limiter.AllowAnonymous(r) {
		writeAuthError(w, errors.NewRateLimitError("", "", "rate limit exceeded").WithRetryAfter(60))
		return
	}

	identity := &Identity{Tenant: AnonymousTenant, Method: MethodAnonymous}
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
}

// touchLastUsed records key activity without blocking the request.
func (a *Authenticator) touchLastUsed(keyID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchLastUsed(ctx, keyID, time.Now().UTC()); err != nil {
			a.logger.Warn("failed to update key last_used", "error", err, "key_id", keyID)
		}
	}()
}

// extractCredential pulls the API key or token from the request,
// preferring the Authorization header over X-Api-Key.
func extractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
		return strings.TrimSpace(header)
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// RequirePermission gates a route on the identity carrying a
// permission. It must run after the authenticator.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFrom(r.Context())
			if identity == nil || identity.Method == MethodAnonymous || !identity.HasPermission(permission) {
				writeAuthError(w, errors.NewAuthenticationError("", "", "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError renders the OpenAI-style error envelope.
func writeAuthError(w http.ResponseWriter, gerr *errors.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	if gerr.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gerr.RetryAfterSec))
	}
	w.WriteHeader(gerr.HTTPStatusCode())

	body := map[string]any{
		"error": map[string]any{
			"message": gerr.Message,
			"type":    gerr.Type,
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}
