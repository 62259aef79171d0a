package types

import (
	"fmt"
	"strings"
)

const MaxModelNameLength = 256

// Model is a catalogue entry aggregated from provider model listings.
// The first four fields follow the OpenAI list format; the rest are
// OMEN extensions surfaced for routing and cost estimation.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`

	Provider      string            `json:"provider,omitempty"`
	ContextLength int               `json:"context_length,omitempty"`
	Pricing       ModelPricing      `json:"pricing"`
	Capabilities  ModelCapabilities `json:"capabilities"`
}

// ModelPricing is the per-1k-token price of a model in USD.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// ModelCapabilities flags what a model supports.
type ModelCapabilities struct {
	Vision    bool `json:"vision"`
	Functions bool `json:"functions"`
	Streaming bool `json:"streaming"`
}

// ModelList is the OpenAI-compatible /v1/models response body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// NewModelList wraps models in the list envelope.
func NewModelList(models []Model) *ModelList {
	if models == nil {
		models = []Model{}
	}
	return &ModelList{Object: "list", Data: models}
}

// ValidateModelName checks that a model name is within acceptable bounds.
func ValidateModelName(model string) error {
	if len(model) > MaxModelNameLength {
		return fmt.Errorf("model is too long (max %d characters)", MaxModelNameLength)
	}
	return nil
}

// SplitProviderModel splits "provider/model" strings.
// Returns ("", model) when no provider prefix is present.
func SplitProviderModel(model string) (provider string, modelName string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", ""
	}
	idx := strings.Index(model, "/")
	if idx <= 0 || idx >= len(model)-1 {
		return "", model
	}
	return model[:idx], model[idx+1:]
}
