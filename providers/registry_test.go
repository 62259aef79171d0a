package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/pkg/provider"
)

func TestRegisterAll_CoversEveryDriver(t *testing.T) {
	r := NewRegistry()

	for _, driver := range []string{
		"openai", "anthropic", "gemini", "azure", "xai", "ollama", "bedrock", "vertexai",
	} {
		assert.Contains(t, Drivers(), driver)
	}

	p, err := r.CreateProvider(provider.Config{Driver: "xai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "xai", p.ID())

	got, ok := r.Get("xai")
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestCreateProvider_UnknownDriver(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateProvider(provider.Config{Driver: "watsonx"})
	require.Error(t, err)
}

func TestCreateProvider_InstanceID(t *testing.T) {
	r := NewRegistry()
	p, err := r.CreateProvider(provider.Config{ID: "openai-eu", Driver: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai-eu", p.ID())
}
