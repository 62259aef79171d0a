// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Mux       MuxConfig        `yaml:"mux"`
	Admission AdmissionConfig  `yaml:"admission"`
	Cache     CacheConfig      `yaml:"cache"`
	Auth      AuthConfig       `yaml:"auth"`
	Database  DatabaseConfig   `yaml:"database"`
	Health    HealthConfig     `yaml:"health_check"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
	SpendLog  SpendLogConfig   `yaml:"spend_log"`
	Alerts    AlertsConfig     `yaml:"alerts"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Bind         string        `yaml:"bind"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single provider instance.
type ProviderConfig struct {
	ID                  string            `yaml:"id"`     // unique instance id, defaults to driver
	Driver              string            `yaml:"driver"` // openai, anthropic, gemini, azure, xai, ollama, bedrock, vertexai
	APIKey              string            `yaml:"api_key"`
	BaseURL             string            `yaml:"base_url"`
	AllowPrivateBaseURL bool              `yaml:"allow_private_base_url"`
	APIVersion          string            `yaml:"api_version"` // azure
	Region              string            `yaml:"region"`      // bedrock
	ProjectID           string            `yaml:"project_id"`  // vertexai
	Location            string            `yaml:"location"`    // vertexai
	Models              []string          `yaml:"models"`
	MaxConcurrent       int               `yaml:"max_concurrent"`
	Timeout             time.Duration     `yaml:"timeout"`
	Headers             map[string]string `yaml:"headers"`
}

// Drivers that bring their own credential chains and need no api_key.
var keylessDrivers = map[string]bool{
	"ollama":   true,
	"bedrock":  true,
	"vertexai": true,
}

var knownDrivers = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"azure":     true,
	"xai":       true,
	"ollama":    true,
	"bedrock":   true,
	"vertexai":  true,
}

// RoutingConfig contains adaptive routing settings.
type RoutingConfig struct {
	PreferLocalFor   []string           `yaml:"prefer_local_for"`
	BudgetMonthlyUSD float64            `yaml:"budget_monthly_usd"`
	SoftLimits       map[string]float64 `yaml:"soft_limits"`
	AutoSwap         bool               `yaml:"auto_swap"`
	TopK             int                `yaml:"top_k"`
}

// MuxConfig contains gateway-wide multiplexer ceilings. Per-request
// directives may lower these values, never raise them.
type MuxConfig struct {
	DefaultStrategy string        `yaml:"default_strategy"`
	MaxBudgetUSD    float64       `yaml:"max_budget_usd"`
	Deadline        time.Duration `yaml:"deadline"`
	MinUsefulTokens int           `yaml:"min_useful_tokens"`
	SpeculateDelay  time.Duration `yaml:"speculate_delay"`
}

// AdmissionConfig contains per-tenant admission control settings.
type AdmissionConfig struct {
	Enabled     bool                  `yaml:"enabled"`
	DefaultTier string                `yaml:"default_tier"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
}

// TierConfig overrides built-in billing tier limits. Nil pointer fields
// mean unlimited.
type TierConfig struct {
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	TokensPerMinute   int      `yaml:"tokens_per_minute"`
	BurstAllowance    int      `yaml:"burst_allowance"`
	RequestsPerDay    *int     `yaml:"requests_per_day"`
	TokensPerDay      *int     `yaml:"tokens_per_day"`
	BudgetPerDayUSD   *float64 `yaml:"budget_per_day_usd"`
	CostMultiplier    float64  `yaml:"cost_multiplier"`
	PriorityWeight    float64  `yaml:"priority_weight"`
}

// CacheConfig contains shared cache settings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RedisURL     string        `yaml:"redis_url"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	ResponseTTL  time.Duration `yaml:"response_ttl"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	RateLimitTTL time.Duration `yaml:"rate_limit_ttl"`
	HealthTTL    time.Duration `yaml:"health_ttl"`
	MaxSizeMB    int           `yaml:"max_size_mb"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Enabled        bool       `yaml:"enabled"`
	MasterKey      string     `yaml:"master_key"`
	JWTSecret      string     `yaml:"jwt_secret"`
	AnonymousRPM   int        `yaml:"anonymous_rpm"`
	TrustedProxies []string   `yaml:"trusted_proxies"`
	OIDC           OIDCConfig `yaml:"oidc"`
}

// OIDCConfig contains OpenID Connect verification settings.
type OIDCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
}

// DatabaseConfig contains PostgreSQL settings for the API key store.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + d.Host,
		"port=" + strconv.Itoa(d.Port),
		"user=" + d.User,
		"dbname=" + d.Database,
		"sslmode=" + d.SSLMode,
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	return strings.Join(parts, " ")
}

// HealthConfig contains provider health probe settings.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	AccessLogs bool   `yaml:"access_logs"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
	Exporter    string  `yaml:"exporter"`     // OTLP transport: "grpc" (default) or "http"
}

// SpendLogConfig contains S3 spend log export settings.
type SpendLogConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	PathPrefix    string        `yaml:"path_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Compression   bool          `yaml:"compression"`
}

// AlertsConfig contains webhook alerting settings.
type AlertsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Routing: RoutingConfig{
			PreferLocalFor:   []string{"code", "regex", "tests"},
			BudgetMonthlyUSD: 100.0,
			AutoSwap:         false,
			TopK:             3,
		},
		Mux: MuxConfig{
			// Empty so auto-model streams race while fixed-model
			// requests stream a single provider.
			DefaultStrategy: "",
			MaxBudgetUSD:    0.10,
			Deadline:        3000 * time.Millisecond,
			MinUsefulTokens: 5,
			SpeculateDelay:  150 * time.Millisecond,
		},
		Admission: AdmissionConfig{
			Enabled:     true,
			DefaultTier: "free",
		},
		Cache: CacheConfig{
			Enabled:      false,
			RedisURL:     "redis://localhost:6379",
			DefaultTTL:   time.Hour,
			ResponseTTL:  30 * time.Minute,
			SessionTTL:   2 * time.Hour,
			RateLimitTTL: time.Minute,
			HealthTTL:    5 * time.Minute,
			MaxSizeMB:    1024,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
			Cooldown: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "omen",
			SampleRate:  1.0,
			Insecure:    true,
		},
		SpendLog: SpendLogConfig{
			FlushInterval: 10 * time.Second,
			BatchSize:     100,
			Compression:   true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Load behaves like LoadFromFile but tolerates a missing file: providers
// can then be configured entirely through environment variables.
func Load(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromFile(path)
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides merges OMEN_* environment variables into the config.
// Provider API key variables enable the matching provider when no instance
// of that driver is configured yet.
func (c *Config) applyEnvOverrides() {
	if bind := os.Getenv("OMEN_BIND"); bind != "" {
		c.Server.Bind = bind
	}
	if port := os.Getenv("OMEN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}
	if redisURL := os.Getenv("OMEN_REDIS_URL"); redisURL != "" {
		c.Cache.RedisURL = redisURL
		c.Cache.Enabled = true
	}

	type envProvider struct {
		driver string
		envKey string
	}
	for _, p := range []envProvider{
		{"openai", "OMEN_OPENAI_API_KEY"},
		{"anthropic", "OMEN_ANTHROPIC_API_KEY"},
		{"gemini", "OMEN_GOOGLE_API_KEY"},
		{"xai", "OMEN_XAI_API_KEY"},
	} {
		key := os.Getenv(p.envKey)
		if key == "" || c.hasDriver(p.driver) {
			continue
		}
		c.Providers = append(c.Providers, ProviderConfig{
			ID:     p.driver,
			Driver: p.driver,
			APIKey: key,
		})
	}

	if endpoint := os.Getenv("OMEN_AZURE_OPENAI_ENDPOINT"); endpoint != "" && !c.hasDriver("azure") {
		c.Providers = append(c.Providers, ProviderConfig{
			ID:      "azure",
			Driver:  "azure",
			BaseURL: endpoint,
			APIKey:  os.Getenv("OMEN_AZURE_OPENAI_API_KEY"),
		})
	}

	if endpoints := os.Getenv("OMEN_OLLAMA_ENDPOINTS"); endpoints != "" && !c.hasDriver("ollama") {
		for i, ep := range strings.Split(endpoints, ",") {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				continue
			}
			id := "ollama"
			if i > 0 {
				id = fmt.Sprintf("ollama-%d", i)
			}
			c.Providers = append(c.Providers, ProviderConfig{
				ID:                  id,
				Driver:              "ollama",
				BaseURL:             ep,
				AllowPrivateBaseURL: true,
			})
		}
	}

	if region := os.Getenv("AWS_REGION"); region != "" && !c.hasDriver("bedrock") {
		if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
			c.Providers = append(c.Providers, ProviderConfig{
				ID:     "bedrock",
				Driver: "bedrock",
				Region: region,
			})
		}
	}

	if prefer := os.Getenv("OMEN_ROUTER_PREFER_LOCAL_FOR"); prefer != "" {
		split := strings.Split(prefer, ",")
		c.Routing.PreferLocalFor = c.Routing.PreferLocalFor[:0]
		for _, s := range split {
			if s = strings.TrimSpace(s); s != "" {
				c.Routing.PreferLocalFor = append(c.Routing.PreferLocalFor, s)
			}
		}
	}
	if budget := os.Getenv("OMEN_BUDGET_MONTHLY_USD"); budget != "" {
		if f, err := strconv.ParseFloat(budget, 64); err == nil {
			c.Routing.BudgetMonthlyUSD = f
		}
	}
}

func (c *Config) hasDriver(driver string) bool {
	for _, p := range c.Providers {
		if p.Driver == driver {
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Driver == "" {
			return fmt.Errorf("provider[%d]: driver is required", i)
		}
		if !knownDrivers[p.Driver] {
			return fmt.Errorf("provider[%d]: unknown driver %q", i, p.Driver)
		}
		id := p.ID
		if id == "" {
			id = p.Driver
		}
		if seen[id] {
			return fmt.Errorf("provider[%d] %q: duplicate id", i, id)
		}
		seen[id] = true
		if p.APIKey == "" && !keylessDrivers[p.Driver] {
			return fmt.Errorf("provider[%d] %q: api_key is required", i, id)
		}
		if p.Driver == "vertexai" && p.ProjectID == "" {
			return fmt.Errorf("provider[%d] %q: project_id is required", i, id)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, id)
		}
		if p.MaxConcurrent < 0 {
			return fmt.Errorf("provider[%d] %q: max_concurrent cannot be negative", i, id)
		}
	}

	if c.Routing.BudgetMonthlyUSD < 0 {
		return fmt.Errorf("routing.budget_monthly_usd cannot be negative")
	}
	if c.Routing.TopK < 0 {
		return fmt.Errorf("routing.top_k cannot be negative")
	}

	if c.Mux.MaxBudgetUSD < 0 {
		return fmt.Errorf("mux.max_budget_usd cannot be negative")
	}
	if c.Mux.Deadline < 0 {
		return fmt.Errorf("mux.deadline cannot be negative")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when database.enabled is true")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database.port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when database.enabled is true")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required when database.enabled is true")
		}
	}

	if c.Auth.OIDC.Enabled && c.Auth.OIDC.Issuer == "" {
		return fmt.Errorf("auth.oidc.issuer is required when auth.oidc.enabled is true")
	}

	if c.SpendLog.Enabled && c.SpendLog.Bucket == "" {
		return fmt.Errorf("spend_log.bucket is required when spend_log.enabled is true")
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" {
		return fmt.Errorf("alerts.webhook_url is required when alerts.enabled is true")
	}

	return nil
}

// Warning codes surfaced by Warnings.
const (
	WarningCacheWithoutAuth = "cache_without_auth"
	WarningNoLocalProvider  = "no_local_provider"
)

// Warning is a non-fatal configuration concern.
type Warning struct {
	Code    string
	Message string
}

// Warnings reports non-fatal configuration concerns.
func (c *Config) Warnings() []Warning {
	var out []Warning

	if c.Cache.Enabled && !c.Auth.Enabled {
		out = append(out, Warning{
			Code:    WarningCacheWithoutAuth,
			Message: "response cache is enabled without authentication; cached responses are shared across anonymous callers",
		})
	}

	if len(c.Routing.PreferLocalFor) > 0 && len(c.Providers) > 0 && !c.hasDriver("ollama") {
		out = append(out, Warning{
			Code:    WarningNoLocalProvider,
			Message: "routing.prefer_local_for is set but no local provider is configured",
		})
	}

	return out
}
