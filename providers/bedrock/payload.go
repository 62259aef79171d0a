package bedrock

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/anthropic"
)

// Native generation defaults for families whose payloads require the
// fields Bedrock would otherwise reject as missing.
const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// buildPayload translates the gateway request into the native payload of
// the model family. Unknown families are rejected before any network
// call is made.
func buildPayload(req *types.ChatRequest) (any, error) {
	switch {
	case strings.Contains(req.Model, "anthropic.claude"):
		return claudePayload(req)
	case strings.Contains(req.Model, "amazon.titan"):
		return titanPayload(req), nil
	case strings.Contains(req.Model, "meta.llama"):
		return llamaPayload(req), nil
	default:
		return nil, errors.NewModelNotFoundError(req.Model, fmt.Sprintf("unsupported bedrock model family: %s", req.Model))
	}
}

// claudePayload reuses the anthropic Messages translation. On Bedrock
// the model ID travels in the URL and the API version inside the body.
func claudePayload(req *types.ChatRequest) (*anthropic.Request, error) {
	native, err := anthropic.TransformRequest(req)
	if err != nil {
		return nil, err
	}
	native.Model = ""
	native.AnthropicVersion = anthropicVersion
	return native, nil
}

type titanTextConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"topP"`
}

type titanRequest struct {
	InputText            string          `json:"inputText"`
	TextGenerationConfig titanTextConfig `json:"textGenerationConfig"`
}

// titanPayload flattens the conversation into Titan's single text field,
// one "role: content" line per message.
func titanPayload(req *types.ChatRequest) *titanRequest {
	var b strings.Builder
	for i, msg := range req.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Text())
	}

	out := &titanRequest{
		InputText: b.String(),
		TextGenerationConfig: titanTextConfig{
			MaxTokenCount: defaultMaxTokens,
			Temperature:   defaultTemperature,
			TopP:          defaultTopP,
		},
	}
	if req.MaxTokens > 0 {
		out.TextGenerationConfig.MaxTokenCount = req.MaxTokens
	}
	if req.Temperature != nil {
		out.TextGenerationConfig.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TextGenerationConfig.TopP = *req.TopP
	}
	return out
}

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// llamaPayload flattens the conversation into Llama's prompt format with
// <|role|> markers.
func llamaPayload(req *types.ChatRequest) *llamaRequest {
	var b strings.Builder
	for _, msg := range req.Messages {
		fmt.Fprintf(&b, "<|%s|>%s", msg.Role, msg.Text())
	}

	out := &llamaRequest{
		Prompt:      b.String(),
		MaxGenLen:   defaultMaxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
	}
	if req.MaxTokens > 0 {
		out.MaxGenLen = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	return out
}

// parseResponse dispatches the native response body to the family parser.
func parseResponse(model string, body []byte) (*types.ChatResponse, error) {
	switch {
	case strings.Contains(model, "anthropic.claude"):
		return parseClaudeResponse(model, body)
	case strings.Contains(model, "amazon.titan"):
		return parseTitanResponse(model, body)
	case strings.Contains(model, "meta.llama"):
		return parseLlamaResponse(model, body)
	default:
		return nil, errors.NewModelNotFoundError(model, fmt.Sprintf("unsupported bedrock model family: %s", model))
	}
}

func parseClaudeResponse(model string, body []byte) (*types.ChatResponse, error) {
	var native anthropic.Response
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	resp := anthropic.TransformResponse(&native)
	// The native body reports the bare model name; callers know the
	// Bedrock ID they asked for.
	resp.Model = model
	return resp, nil
}

type titanResult struct {
	TokenCount       int    `json:"tokenCount"`
	OutputText       string `json:"outputText"`
	CompletionReason string `json:"completionReason"`
}

type titanResponse struct {
	InputTextTokenCount int           `json:"inputTextTokenCount"`
	Results             []titanResult `json:"results"`
}

func parseTitanResponse(model string, body []byte) (*types.ChatResponse, error) {
	var native titanResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text, reason string
	var completionTokens int
	if len(native.Results) > 0 {
		text = native.Results[0].OutputText
		reason = native.Results[0].CompletionReason
		completionTokens = native.Results[0].TokenCount
	}

	return &types.ChatResponse{
		Object: "chat.completion",
		Model:  model,
		Choices: []types.Choice{{
			Index: 0,
			Message: types.ChatMessage{
				Role:    types.RoleAssistant,
				Content: types.TextContent(text),
			},
			FinishReason: mapTitanReason(reason),
		}},
		Usage: &types.Usage{
			PromptTokens:     native.InputTextTokenCount,
			CompletionTokens: completionTokens,
			TotalTokens:      native.InputTextTokenCount + completionTokens,
		},
	}, nil
}

func mapTitanReason(reason string) string {
	switch reason {
	case "LENGTH", "MAX_TOKENS":
		return "length"
	case "CONTENT_FILTERED":
		return "content_filter"
	default:
		return "stop"
	}
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

func parseLlamaResponse(model string, body []byte) (*types.ChatResponse, error) {
	var native llamaResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &types.ChatResponse{
		Object: "chat.completion",
		Model:  model,
		Choices: []types.Choice{{
			Index: 0,
			Message: types.ChatMessage{
				Role:    types.RoleAssistant,
				Content: types.TextContent(native.Generation),
			},
			FinishReason: mapLlamaReason(native.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     native.PromptTokenCount,
			CompletionTokens: native.GenerationTokenCount,
			TotalTokens:      native.PromptTokenCount + native.GenerationTokenCount,
		},
	}, nil
}

func mapLlamaReason(reason string) string {
	switch reason {
	case "length":
		return "length"
	default:
		return "stop"
	}
}
