package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/ghostkellz/omen"
	"github.com/ghostkellz/omen/internal/config"
)

// ServerOption tweaks the gateway configuration under test.
type ServerOption func(*config.Config)

// WithMockProvider registers an openai-driver provider pointed at a
// mock upstream.
func WithMockProvider(id, baseURL string, models ...string) ServerOption {
	return func(cfg *config.Config) {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			ID:                  id,
			Driver:              "openai",
			APIKey:              "sk-test",
			BaseURL:             baseURL,
			AllowPrivateBaseURL: true,
			Models:              models,
			Timeout:             10 * time.Second,
		})
	}
}

// WithConfig applies an arbitrary configuration tweak.
func WithConfig(fn func(*config.Config)) ServerOption {
	return func(cfg *config.Config) { fn(cfg) }
}

// TestServer is a gateway running on an httptest listener.
type TestServer struct {
	Gateway *omen.Gateway
	server  *httptest.Server
}

// NewTestServer builds and starts a gateway with test defaults: cache
// on, health prober off, auth off, quiet logs.
func NewTestServer(opts ...ServerOption) (*TestServer, error) {
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.RedisURL = ""
	cfg.Health.Enabled = false
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := omen.New(omen.WithConfig(cfg), omen.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &TestServer{
		Gateway: gw,
		server:  httptest.NewServer(gw.Handler()),
	}, nil
}

// URL returns the gateway's base URL.
func (s *TestServer) URL() string { return s.server.URL }

// Close stops the listener and the gateway.
func (s *TestServer) Close() {
	s.server.Close()
	_ = s.Gateway.Close()
}
