package anthropic

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

// Request is the Messages API payload. The same shape serves the direct
// API (model in the body), Vertex, and Bedrock (model in the URL,
// anthropic_version in the body).
type Request struct {
	Model            string    `json:"model,omitempty"`
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	TopK             *int      `json:"top_k,omitempty"`
	StopSequences    []string  `json:"stop_sequences,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	Tools            []Tool    `json:"tools,omitempty"`
	ToolChoice       *Choice   `json:"tool_choice,omitempty"`
	Thinking         *Thinking `json:"thinking,omitempty"`
}

// Message is one conversation turn. Content is either a plain string or
// a []ContentBlock.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlock is one typed piece of message content.
type ContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Metadata carries request attribution.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Tool describes one callable function.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Choice steers tool selection.
type Choice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// Thinking enables extended thinking with a token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Response is the Messages API response payload.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TransformRequest converts an OpenAI-format request into the Messages
// API payload.
func TransformRequest(req *types.ChatRequest) (*Request, error) {
	nativeReq := &Request{
		Model:     req.Model,
		MaxTokens: DefaultMaxTokens,
		Stream:    req.Stream,
	}

	if req.MaxTokens > 0 {
		nativeReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		nativeReq.Temperature = req.Temperature
	}
	if req.TopP != nil {
		nativeReq.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		nativeReq.StopSequences = req.Stop
	}
	if req.User != "" {
		nativeReq.Metadata = &Metadata{UserID: req.User}
	}

	messages, systemPrompt, err := transformMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	nativeReq.Messages = messages
	if systemPrompt != "" {
		nativeReq.System = systemPrompt
	}

	if len(req.Tools) > 0 {
		nativeReq.Tools = transformTools(req.Tools)
	}

	if len(req.ToolChoice) > 0 {
		tc, err := transformToolChoice(req.ToolChoice)
		if err == nil && tc != nil {
			nativeReq.ToolChoice = tc
		}
	}

	if raw, ok := req.Extra["thinking"]; ok {
		var th Thinking
		if err := json.Unmarshal(raw, &th); err == nil && th.Type != "" {
			nativeReq.Thinking = &th
		}
	}

	return nativeReq, nil
}

// transformMessages splits out the system prompt and converts the
// remaining turns. Tool calls become tool_use blocks; tool results
// become user-role tool_result blocks.
func transformMessages(messages []types.ChatMessage) ([]Message, string, error) {
	var result []Message
	var systemPrompt string

	for _, msg := range messages {
		role := msg.Role

		if role == types.RoleSystem {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				var contentArr []map[string]any
				if err := json.Unmarshal(msg.Content, &contentArr); err == nil {
					for _, c := range contentArr {
						if text, ok := c["text"].(string); ok {
							systemPrompt += text
						}
					}
				}
			} else {
				systemPrompt = content
			}
			continue
		}

		if role == types.RoleAssistant && len(msg.ToolCalls) > 0 {
			var blocks []ContentBlock
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = tc.Function.Arguments
				}
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			result = append(result, Message{Role: "assistant", Content: blocks})
			continue
		}

		if role == types.RoleTool {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				content = string(msg.Content)
			}
			result = append(result, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   content,
				}},
			})
			continue
		}

		var content string
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			var contentArr []map[string]any
			if err := json.Unmarshal(msg.Content, &contentArr); err != nil {
				return nil, "", fmt.Errorf("invalid message content format")
			}
			var blocks []ContentBlock
			for _, c := range contentArr {
				if c["type"] == "text" {
					if text, ok := c["text"].(string); ok {
						blocks = append(blocks, ContentBlock{Type: "text", Text: text})
					}
				}
			}
			result = append(result, Message{Role: role, Content: blocks})
		} else {
			result = append(result, Message{Role: role, Content: content})
		}
	}

	return result, systemPrompt, nil
}

func transformTools(tools []types.Tool) []Tool {
	result := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}

		var params map[string]any
		if len(tool.Function.Parameters) > 0 {
			if err := json.Unmarshal(tool.Function.Parameters, &params); err != nil {
				params = make(map[string]any)
			}
		}

		schema := InputSchema{Type: "object", Properties: make(map[string]any)}
		if props, ok := params["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if required, ok := params["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		result = append(result, Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}
	return result
}

func transformToolChoice(raw json.RawMessage) (*Choice, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch str {
		case "auto":
			return &Choice{Type: "auto"}, nil
		case "required":
			return &Choice{Type: "any"}, nil
		case "none":
			return &Choice{Type: "none"}, nil
		}
		return nil, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	if fn, ok := obj["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return &Choice{Type: "tool", Name: name}, nil
		}
	}

	return nil, nil
}

// TransformResponse converts a Messages API response into the OpenAI
// format. Text blocks concatenate; tool_use blocks become tool calls.
func TransformResponse(resp *Response) *types.ChatResponse {
	var textContent string
	var toolCalls []types.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "tool_use":
			inputJSON, err := json.Marshal(block.Input)
			if err != nil {
				inputJSON = []byte("{}")
			}
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(inputJSON),
				},
			})
		}
	}

	message := types.ChatMessage{
		Role:    types.RoleAssistant,
		Content: types.TextContent(textContent),
	}
	if len(toolCalls) > 0 {
		message.ToolCalls = toolCalls
	}

	return &types.ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: mapStopReason(resp.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// ParseChunk interprets one line of Anthropic's SSE event grammar.
// Only content deltas, the opening message, and the stop reason map to
// chunks; every other event is absorbed.
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

	var event map[string]any
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, nil
	}

	eventType, ok := event["type"].(string)
	if !ok {
		return nil, nil
	}

	switch eventType {
	case "content_block_delta":
		delta, ok := event["delta"].(map[string]any)
		if !ok {
			return nil, nil
		}
		if delta["type"] == "text_delta" {
			text, ok := delta["text"].(string)
			if !ok {
				return nil, nil
			}
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Index: 0,
					Delta: types.StreamDelta{Content: text},
				}},
			}, nil
		}

	case "message_start":
		msg, ok := event["message"].(map[string]any)
		if !ok {
			return nil, nil
		}
		var id, model string
		if v, ok := msg["id"].(string); ok {
			id = v
		}
		if v, ok := msg["model"].(string); ok {
			model = v
		}
		return &types.StreamChunk{
			ID:     id,
			Object: "chat.completion.chunk",
			Model:  model,
			Choices: []types.StreamChoice{{
				Index: 0,
				Delta: types.StreamDelta{Role: "assistant"},
			}},
		}, nil

	case "message_delta":
		delta, ok := event["delta"].(map[string]any)
		if !ok {
			return nil, nil
		}
		stopReason, ok := delta["stop_reason"].(string)
		if ok && stopReason != "" {
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Index:        0,
					FinishReason: mapStopReason(stopReason),
				}},
			}, nil
		}

	case "message_stop":
		return nil, nil
	}

	return nil, nil
}

// MapError converts an Anthropic error envelope to a gateway error.
func MapError(providerID, model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return openailike.StatusError(providerID, model, statusCode, message)
}
