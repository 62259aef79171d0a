package gemini

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// transformRequest converts an OpenAI-format request. System messages
// become the systemInstruction; assistant turns take the model role.
func transformRequest(req *types.ChatRequest) *geminiRequest {
	nativeReq := &geminiRequest{GenerationConfig: &generationConfig{}}
	if req.MaxTokens > 0 {
		nativeReq.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		nativeReq.GenerationConfig.Temperature = req.Temperature
	}
	if req.TopP != nil {
		nativeReq.GenerationConfig.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		nativeReq.GenerationConfig.StopSequences = req.Stop
	}

	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			if text := msg.Text(); text != "" {
				nativeReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: text}}}
			}
			continue
		}
		role := msg.Role
		if role == types.RoleAssistant {
			role = "model"
		}
		if text := msg.Text(); text != "" {
			nativeReq.Contents = append(nativeReq.Contents, geminiContent{
				Role:  role,
				Parts: []geminiPart{{Text: text}},
			})
		}
	}
	return nativeReq
}

func transformResponse(resp *geminiResponse, model string) *types.ChatResponse {
	choices := make([]types.Choice, 0, len(resp.Candidates))
	for i, c := range resp.Candidates {
		var text string
		for _, part := range c.Content.Parts {
			text += part.Text
		}
		choices = append(choices, types.Choice{
			Index: i,
			Message: types.ChatMessage{
				Role:    types.RoleAssistant,
				Content: types.TextContent(text),
			},
			FinishReason: mapFinishReason(c.FinishReason),
		})
	}
	chatResp := &types.ChatResponse{
		Object:  "chat.completion",
		Model:   model,
		Choices: choices,
	}
	if resp.UsageMetadata != nil {
		chatResp.Usage = &types.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return chatResp
}

func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}

// ParseChunk interprets one SSE line of streamGenerateContent output.
// Each line carries a full candidate snapshot with the newest text.
func ParseChunk(line []byte) (*types.StreamChunk, error) {
	if bytes.HasPrefix(line, []byte(":")) || bytes.HasPrefix(line, []byte("event:")) {
		return nil, nil
	}
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	}
	if len(line) == 0 {
		return nil, nil
	}

	var resp geminiResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, nil
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}

	c := resp.Candidates[0]
	var text string
	for _, part := range c.Content.Parts {
		text += part.Text
	}
	chunk := &types.StreamChunk{
		Object:  "chat.completion.chunk",
		Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Content: text}}},
	}
	if c.FinishReason != "" {
		chunk.Choices[0].FinishReason = mapFinishReason(c.FinishReason)
	}
	return chunk, nil
}

// MapError converts a Google API error envelope to a gateway error.
func MapError(providerID, model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return openailike.StatusError(providerID, model, statusCode, message)
}
