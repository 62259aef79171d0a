package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWarnings_CacheEnabledWithoutAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Auth.Enabled = false

	warnings := cfg.Warnings()
	require.NotEmpty(t, warnings)

	var found bool
	for _, w := range warnings {
		if w.Code == WarningCacheWithoutAuth {
			found = true
			break
		}
	}
	require.True(t, found, "expected %q warning", WarningCacheWithoutAuth)
}

func TestWarnings_PreferLocalWithoutLocalProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "openai", Driver: "openai", APIKey: "sk-test"},
	}

	warnings := cfg.Warnings()

	var found bool
	for _, w := range warnings {
		if w.Code == WarningNoLocalProvider {
			found = true
			break
		}
	}
	require.True(t, found, "expected %q warning", WarningNoLocalProvider)

	cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "ollama", Driver: "ollama"})
	for _, w := range cfg.Warnings() {
		require.NotEqual(t, WarningNoLocalProvider, w.Code)
	}
}

func TestWarnings_NoCacheOrAuthEnabled(t *testing.T) {
	t.Run("cache disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = false
		cfg.Auth.Enabled = false
		require.Empty(t, cfg.Warnings())
	})

	t.Run("auth enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = true
		cfg.Auth.Enabled = true
		require.Empty(t, cfg.Warnings())
	})
}
