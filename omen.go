// Package omen embeds the gateway in a Go program. New wires the same
// components the server binary runs: provider registry, adaptive
// router, admission control, response cache, and the request pipeline,
// plus the full OpenAI-compatible HTTP surface via Handler.
package omen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ghostkellz/omen/caches"
	"github.com/ghostkellz/omen/internal/admission"
	"github.com/ghostkellz/omen/internal/api"
	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/healthcheck"
	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/pipeline"
	"github.com/ghostkellz/omen/internal/router"
	"github.com/ghostkellz/omen/internal/secret"
	"github.com/ghostkellz/omen/internal/secret/env"
	"github.com/ghostkellz/omen/internal/session"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers"
)

// Gateway is a fully wired OMEN instance. It is safe for concurrent
// use. Close releases background loops and owned resources.
type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *provider.Registry
	pipeline *pipeline.Pipeline
	handler  http.Handler

	backend     cache.Cache
	ownsBackend bool
	keys        auth.KeyStore
	ownsKeys    bool

	tracer   *observability.TracerProvider
	otel     *observability.OTelMetricsProvider
	spendLog *observability.SpendLogger

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New builds a gateway from functional options. Without options it
// loads defaults plus OMEN_* environment overrides, which is enough to
// run against any provider whose API key is in the environment.
func New(opts ...Option) (*Gateway, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	cfg := s.cfg
	if cfg == nil {
		loaded, err := config.Load(s.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := s.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LoggerConfig{
			Level:      observability.ParseLevel(cfg.Logging.Level),
			JSONFormat: cfg.Logging.Format != "text",
		}, observability.NewRedactor()).Slog()
	}

	secrets := s.secrets
	if secrets == nil {
		secrets = secret.NewManager()
		secrets.Register("env", env.New())
	}

	backend := s.backend
	ownsBackend := false
	if backend == nil {
		backend = caches.New(cfg.Cache, logger)
		ownsBackend = true
	}

	ctx := context.Background()

	registry := providers.NewRegistry()
	for _, pc := range cfg.Providers {
		apiKey, err := secrets.Get(ctx, pc.APIKey)
		if err != nil {
			logger.Error("resolve provider api key", "provider", pc.ID, "error", err)
			continue
		}
		prov, err := registry.CreateProvider(providerConfig(pc, apiKey))
		if err != nil {
			logger.Error("create provider", "provider", pc.ID, "driver", pc.Driver, "error", err)
			continue
		}
		logger.Info("provider registered", "provider", prov.ID(), "driver", pc.Driver, "models", pc.Models)
	}
	for _, p := range s.providers {
		registry.Add(p)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	collector := metrics.NewCollector()

	var alerts *observability.AlertNotifier
	if cfg.Alerts.Enabled {
		notifier, err := observability.NewAlertNotifier(observability.AlertConfig{
			WebhookURL:      cfg.Alerts.WebhookURL,
			Channel:         cfg.Alerts.Channel,
			AlertOnBudget:   true,
			AlertOnProvider: true,
		})
		if err != nil {
			logger.Warn("alerts disabled", "error", err)
		} else {
			alerts = notifier
		}
	}

	admit := admission.New(cfg.Admission, backend, collector, alerts, logger)
	route := router.New(registry, backend, collector, cfg.Routing, logger)

	var responses *cache.ResponseCache
	if cfg.Cache.Enabled {
		responses = cache.NewResponseCache(backend, cfg.Cache.ResponseTTL, logger)
	}
	sessions := session.NewStore(backend, cfg.Cache.SessionTTL, logger)

	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
		Exporter:    observability.ExporterType(cfg.Tracing.Exporter),
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	otel, err := observability.InitOTelMetrics(ctx, observability.DefaultOTelMetricsConfig())
	if err != nil {
		logger.Warn("otel metrics disabled", "error", err)
	}

	var spendLog *observability.SpendLogger
	if cfg.SpendLog.Enabled {
		sl, err := observability.NewSpendLogger(observability.SpendLogConfig{
			BucketName:    cfg.SpendLog.Bucket,
			Region:        cfg.SpendLog.Region,
			Endpoint:      cfg.SpendLog.Endpoint,
			PathPrefix:    cfg.SpendLog.PathPrefix,
			FlushInterval: cfg.SpendLog.FlushInterval,
			BatchSize:     cfg.SpendLog.BatchSize,
			Compression:   cfg.SpendLog.Compression,
		})
		if err != nil {
			logger.Warn("spend log disabled", "error", err)
		} else {
			spendLog = sl
		}
	}

	pipe := pipeline.New(pipeline.Deps{
		Registry:    registry,
		Router:      route,
		Admission:   admit,
		Responses:   responses,
		Sessions:    sessions,
		Collector:   collector,
		OTelMetrics: otel,
		SpendLog:    spendLog,
		Logger:      logger,
	}, cfg.Mux)

	keys := s.keys
	ownsKeys := false
	if keys == nil {
		if cfg.Database.Enabled {
			store, err := auth.NewPostgresStore(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
			if err != nil {
				return nil, fmt.Errorf("open key store: %w", err)
			}
			keys = store
		} else {
			keys = auth.NewMemoryStore()
		}
		ownsKeys = true
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:  pipe,
		Registry:  registry,
		Admission: admit,
		Responses: responses,
		Sessions:  sessions,
		Keys:      keys,
		Logger:    logger,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	var h http.Handler = mux
	if cfg.Auth.Enabled {
		trusted, bad := auth.ParseTrustedProxies(cfg.Auth.TrustedProxies)
		for _, v := range bad {
			logger.Warn("ignoring invalid trusted proxy", "value", v)
		}
		var verifier auth.TokenVerifier
		if cfg.Auth.OIDC.Enabled {
			v, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDC.Issuer, cfg.Auth.OIDC.ClientID)
			if err != nil {
				logger.Warn("oidc disabled", "error", err)
			} else {
				verifier = v
			}
		}
		authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{
			Store:     keys,
			Tracker:   auth.NewUsageTracker(),
			Limiter:   auth.NewRateLimiter(cfg.Auth.AnonymousRPM, trusted),
			Verifier:  verifier,
			MasterKey: cfg.Auth.MasterKey,
			JWTSecret: []byte(cfg.Auth.JWTSecret),
			SkipPaths: []string{"/health", "/metrics"},
			Logger:    logger,
		})
		h = authenticator.Middleware(h)
	}
	h = metrics.Middleware(h)
	h = observability.RequestIDMiddleware(h)

	if err := cache.Warm(context.Background(), backend, cfg.Cache.HealthTTL); err != nil {
		logger.Debug("health key warm failed", "error", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	go admit.Run(bgCtx)

	prober := healthcheck.NewProber(healthcheck.Config{
		Enabled:   cfg.Health.Enabled,
		Interval:  cfg.Health.Interval,
		Timeout:   cfg.Health.Timeout,
		RecordTTL: cfg.Cache.HealthTTL,
		Cooldown:  cfg.Health.Cooldown,
	}, registry, backend, route, logger)
	prober.Start(bgCtx)

	return &Gateway{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		pipeline:    pipe,
		handler:     h,
		backend:     backend,
		ownsBackend: ownsBackend,
		keys:        keys,
		ownsKeys:    ownsKeys,
		tracer:      tracer,
		otel:        otel,
		spendLog:    spendLog,
		cancel:      cancel,
	}, nil
}

// providerConfig maps a configuration block onto the provider
// constructor config. The Azure api-version travels in the header map.
func providerConfig(pc config.ProviderConfig, apiKey string) provider.Config {
	headers := pc.Headers
	if pc.APIVersion != "" {
		headers = make(map[string]string, len(pc.Headers)+1)
		for k, v := range pc.Headers {
			headers[k] = v
		}
		headers["api-version"] = pc.APIVersion
	}
	return provider.Config{
		ID:                  pc.ID,
		Driver:              pc.Driver,
		APIKey:              apiKey,
		BaseURL:             pc.BaseURL,
		AllowPrivateBaseURL: pc.AllowPrivateBaseURL,
		Models:              pc.Models,
		MaxConcurrent:       pc.MaxConcurrent,
		Timeout:             pc.Timeout,
		Headers:             headers,
		Region:              pc.Region,
		ProjectID:           pc.ProjectID,
		Location:            pc.Location,
	}
}

// Handler returns the HTTP surface with middleware applied: request-id,
// metrics, and, when auth is enabled, authentication.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Registry exposes the provider fleet.
func (g *Gateway) Registry() *provider.Registry { return g.registry }

// Config returns the configuration the gateway was built from.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Complete runs a chat completion through the full pipeline: cache,
// admission, routing, execution, and billing.
func (g *Gateway) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return g.pipeline.Complete(ctx, req)
}

// CompleteStream starts a streaming completion. The caller must drain
// or Close the stream; billing settles when it ends.
func (g *Gateway) CompleteStream(ctx context.Context, req *types.ChatRequest) (*Stream, error) {
	inner, err := g.pipeline.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: inner}, nil
}

// Embed runs an embedding request against the first healthy provider
// advertising the model.
func (g *Gateway) Embed(ctx context.Context, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	return g.pipeline.Embed(ctx, req)
}

// Close stops background loops and releases owned resources. Injected
// backends and key stores stay open for their owners.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if g.spendLog != nil {
			if err := g.spendLog.Shutdown(ctx); err != nil {
				g.closeErr = err
			}
		}
		if g.otel != nil {
			if err := g.otel.Shutdown(ctx); err != nil && g.closeErr == nil {
				g.closeErr = err
			}
		}
		if g.tracer != nil {
			if err := g.tracer.Shutdown(ctx); err != nil && g.closeErr == nil {
				g.closeErr = err
			}
		}
		if g.ownsKeys {
			if closer, ok := g.keys.(io.Closer); ok {
				if err := closer.Close(); err != nil && g.closeErr == nil {
					g.closeErr = err
				}
			}
		}
		if g.ownsBackend {
			if err := g.backend.Close(); err != nil && g.closeErr == nil {
				g.closeErr = err
			}
		}
	})
	return g.closeErr
}

// Stream is a streaming completion in flight.
type Stream struct {
	inner *pipeline.Stream
}

// Recv returns the next chunk. io.EOF ends a healthy stream.
func (s *Stream) Recv() (*types.StreamChunk, error) { return s.inner.Recv() }

// Close abandons the stream and settles billing for what was consumed.
func (s *Stream) Close() error { return s.inner.Close() }

// Winner is the provider that produced the stream.
func (s *Stream) Winner() string { return s.inner.Winner() }

// Upgraded reports whether a speculative branch replaced the primary.
func (s *Stream) Upgraded() bool { return s.inner.Upgraded() }
