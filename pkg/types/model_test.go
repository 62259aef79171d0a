package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateModelName(t *testing.T) {
	valid := strings.Repeat("a", MaxModelNameLength)
	require.NoError(t, ValidateModelName(valid))

	invalid := strings.Repeat("a", MaxModelNameLength+1)
	require.Error(t, ValidateModelName(invalid))
}

func TestSplitProviderModel(t *testing.T) {
	cases := []struct {
		in       string
		provider string
		model    string
	}{
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"ollama/llama3:8b", "ollama", "llama3:8b"},
		{"gpt-4o", "", "gpt-4o"},
		{"  anthropic/claude-sonnet  ", "anthropic", "claude-sonnet"},
		{"/leading", "", "/leading"},
		{"trailing/", "", "trailing/"},
		{"", "", ""},
	}

	for _, tc := range cases {
		provider, model := SplitProviderModel(tc.in)
		assert.Equal(t, tc.provider, provider, "input %q", tc.in)
		assert.Equal(t, tc.model, model, "input %q", tc.in)
	}
}

func TestNewModelList(t *testing.T) {
	list := NewModelList(nil)
	assert.Equal(t, "list", list.Object)
	assert.NotNil(t, list.Data)
	assert.Empty(t, list.Data)

	models := []Model{{ID: "llama3:8b", Object: "model", OwnedBy: "ollama", Provider: "ollama"}}
	list = NewModelList(models)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "llama3:8b", list.Data[0].ID)
}
