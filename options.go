package omen

import (
	"log/slog"

	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/secret"
	"github.com/ghostkellz/omen/pkg/provider"
)

// settings collects everything New needs before wiring begins. Options
// fill it in; zero fields fall back to configuration defaults.
type settings struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	providers  []provider.Provider
	keys       auth.KeyStore
	backend    cache.Cache
	secrets    *secret.Manager
}

// Option configures a Gateway under construction.
type Option func(*settings)

// WithConfig supplies a full configuration. It takes precedence over
// WithConfigFile.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithConfigFile loads configuration from a YAML file at construction.
func WithConfigFile(path string) Option {
	return func(s *settings) { s.configPath = path }
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProvider adds a pre-built provider instance alongside any
// configured ones. Useful for tests and custom adapters.
func WithProvider(p provider.Provider) Option {
	return func(s *settings) { s.providers = append(s.providers, p) }
}

// WithKeyStore replaces the API key store. Without it the gateway uses
// Postgres when the database is configured, in-memory otherwise.
func WithKeyStore(store auth.KeyStore) Option {
	return func(s *settings) { s.keys = store }
}

// WithCacheBackend replaces the shared cache backend. The caller keeps
// ownership; Close will not close an injected backend.
func WithCacheBackend(backend cache.Cache) Option {
	return func(s *settings) { s.backend = backend }
}

// WithSecretManager replaces the resolver used for provider API key
// references such as "env:OPENAI_API_KEY".
func WithSecretManager(m *secret.Manager) Option {
	return func(s *settings) { s.secrets = m }
}
