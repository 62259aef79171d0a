package types_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/pkg/types"
)

func TestCompletionPrompt_UnmarshalString(t *testing.T) {
	var prompt types.CompletionPrompt

	err := json.Unmarshal([]byte(`"hello"`), &prompt)
	require.NoError(t, err)

	require.NotNil(t, prompt.Text)
	assert.Equal(t, "hello", *prompt.Text)
	assert.Nil(t, prompt.Texts)

	text, err := prompt.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestCompletionPrompt_UnmarshalStringArray(t *testing.T) {
	var prompt types.CompletionPrompt

	err := json.Unmarshal([]byte(`["hello","world"]`), &prompt)
	require.NoError(t, err)

	assert.Nil(t, prompt.Text)
	assert.Equal(t, []string{"hello", "world"}, prompt.Texts)

	text, err := prompt.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)
}

func TestCompletionPrompt_UnmarshalInvalid(t *testing.T) {
	var prompt types.CompletionPrompt

	err := json.Unmarshal([]byte(`123`), &prompt)
	require.Error(t, err)
}

func TestCompletionPrompt_ValidateEmptyArray(t *testing.T) {
	var prompt types.CompletionPrompt

	err := json.Unmarshal([]byte(`[]`), &prompt)
	require.NoError(t, err)

	require.Error(t, prompt.Validate())
}

func TestCompletionRequest_ToChatRequest(t *testing.T) {
	data := []byte(`{
		"model": "gpt-4",
		"prompt": "say hi",
		"max_tokens": 16,
		"stop": "\n",
		"omen": {"strategy": "race"}
	}`)

	var req types.CompletionRequest
	require.NoError(t, json.Unmarshal(data, &req))

	chatReq, err := req.ToChatRequest()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", chatReq.Model)
	require.Len(t, chatReq.Messages, 1)
	assert.Equal(t, types.RoleUser, chatReq.Messages[0].Role)
	assert.Equal(t, "say hi", chatReq.Messages[0].Text())
	assert.Equal(t, 16, chatReq.MaxTokens)
	assert.Equal(t, []string{"\n"}, chatReq.Stop)
	require.NotNil(t, chatReq.Omen)
	assert.Equal(t, types.StrategyRace, chatReq.Omen.Strategy)
}

func TestCompletionRequest_ToChatRequest_MissingModel(t *testing.T) {
	req := types.CompletionRequest{}
	_, err := req.ToChatRequest()
	require.Error(t, err)
}

func TestCompletionResponseFromChat(t *testing.T) {
	resp := &types.ChatResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "gpt-4",
		Choices: []types.Choice{
			{
				Index:        0,
				Message:      types.ChatMessage{Role: types.RoleAssistant, Content: types.TextContent("hi there")},
				FinishReason: "stop",
			},
		},
		Usage: &types.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}

	got := types.CompletionResponseFromChat(resp)
	require.NotNil(t, got)
	assert.Equal(t, "text_completion", got.Object)
	require.Len(t, got.Choices, 1)
	assert.Equal(t, "hi there", got.Choices[0].Text)
	assert.Equal(t, "stop", got.Choices[0].FinishReason)
	assert.Equal(t, 5, got.Usage.TotalTokens)
}

func TestCompletionStreamChunkFromChat(t *testing.T) {
	chunk := &types.StreamChunk{
		ID:      "chatcmpl-1",
		Model:   "gpt-4",
		Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "hel"}}},
	}

	got := types.CompletionStreamChunkFromChat(chunk)
	require.NotNil(t, got)
	assert.Equal(t, "text_completion", got.Object)
	require.Len(t, got.Choices, 1)
	assert.Equal(t, "hel", got.Choices[0].Text)
}
