package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/pkg/types"
)

func TestTransformRequest_RolesAndConfig(t *testing.T) {
	temp := 0.7
	req := &types.ChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: types.TextContent("be terse")},
			{Role: types.RoleUser, Content: types.TextContent("hi")},
			{Role: types.RoleAssistant, Content: types.TextContent("hello")},
		},
		MaxTokens:   256,
		Temperature: &temp,
		Stop:        []string{"END"},
	}

	nativeReq := transformRequest(req)

	require.NotNil(t, nativeReq.SystemInstruction)
	assert.Equal(t, "be terse", nativeReq.SystemInstruction.Parts[0].Text)

	require.Len(t, nativeReq.Contents, 2)
	assert.Equal(t, "user", nativeReq.Contents[0].Role)
	assert.Equal(t, "model", nativeReq.Contents[1].Role)

	assert.Equal(t, 256, nativeReq.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, &temp, nativeReq.GenerationConfig.Temperature)
	assert.Equal(t, []string{"END"}, nativeReq.GenerationConfig.StopSequences)
}

func TestBuildRequest_KeyInQuery(t *testing.T) {
	p := New(WithAPIKey("AIza-test"))

	httpReq, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", httpReq.URL.Path)
	assert.Equal(t, "AIza-test", httpReq.URL.Query().Get("key"))
	assert.Empty(t, httpReq.Header.Get("Authorization"))
}

func TestBuildRequest_StreamUsesSSE(t *testing.T) {
	p := New(WithAPIKey("AIza-test"))

	httpReq, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", httpReq.URL.Path)
	assert.Equal(t, "sse", httpReq.URL.Query().Get("alt"))
}

func TestComplete_TransformsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Contains(t, payload, "contents")

		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "bonjour"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
		}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("k"), WithBaseURL(srv.URL))

	resp, err := p.Complete(context.Background(), &types.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "bonjour", resp.Content())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestStreamComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"bon\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"jour\"}]},\"finishReason\":\"STOP\"}]}\n\n"))
	}))
	defer srv.Close()

	p := New(WithAPIKey("k"), WithBaseURL(srv.URL))

	stream, err := p.StreamComplete(context.Background(), &types.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var text, finish string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += chunk.DeltaContent()
		if fr := chunk.FinishReason(); fr != "" {
			finish = fr
		}
	}
	assert.Equal(t, "bonjour", text)
	assert.Equal(t, "stop", finish)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapFinishReason("STOP"))
	assert.Equal(t, "length", mapFinishReason("MAX_TOKENS"))
	assert.Equal(t, "content_filter", mapFinishReason("SAFETY"))
	assert.Equal(t, "content_filter", mapFinishReason("RECITATION"))
}

func TestListModels_Catalogue(t *testing.T) {
	p := New(WithAPIKey("k"))

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)

	assert.Equal(t, "gemini-2.5-pro", models[0].ID)
	assert.Equal(t, 2097152, models[0].ContextLength)
	assert.Equal(t, "google", models[0].OwnedBy)
	for _, m := range models {
		assert.Equal(t, ProviderName, m.Provider)
		assert.True(t, m.Capabilities.Vision)
		assert.True(t, m.Capabilities.Functions)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"models": []}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, p.Health(context.Background()))
}
