package vertexai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

func staticToken(tok string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
}

type failingTokenSource struct{}

func (failingTokenSource) Token() (*oauth2.Token, error) {
	return nil, fmt.Errorf("no credentials")
}

func TestBuildRequest_URLAndWireFormat(t *testing.T) {
	p := New("proj-1", staticToken("tok"), WithLocation("europe-west4"))

	req, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model: "claude-3-5-sonnet@20241022",
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: types.TextContent("be brief")},
			{Role: types.RoleUser, Content: types.TextContent("hi")},
		},
	}, false)
	require.NoError(t, err)

	assert.Equal(t,
		"https://europe-west4-aiplatform.googleapis.com/v1/projects/proj-1/locations/europe-west4/publishers/anthropic/models/claude-3-5-sonnet@20241022:rawPredict",
		req.URL.String())
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))

	assert.Equal(t, anthropicVersion, payload["anthropic_version"])
	assert.Equal(t, "be brief", payload["system"])
	assert.Equal(t, float64(4096), payload["max_tokens"])
	_, hasModel := payload["model"]
	assert.False(t, hasModel)
	_, hasStream := payload["stream"]
	assert.False(t, hasStream)
}

func TestBuildRequest_StreamAction(t *testing.T) {
	p := New("proj-1", staticToken("tok"))

	req, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:    "claude-opus-4-1@20250805",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	}, true)
	require.NoError(t, err)

	assert.Contains(t, req.URL.String(), DefaultLocation+"-aiplatform.googleapis.com")
	assert.Contains(t, req.URL.String(), ":streamRawPredict")
}

func TestComplete_TranslatesResponse(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{
			"id": "msg_02",
			"role": "assistant",
			"model": "claude-3-5-sonnet",
			"content": [{"type": "text", "text": "bonjour"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := New("proj-1", staticToken("tok"), WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &types.ChatRequest{
		Model:    "claude-3-5-sonnet@20241022",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/projects/proj-1/locations/us-central1/publishers/anthropic/models/claude-3-5-sonnet@20241022:rawPredict", gotPath)
	assert.Equal(t, "claude-3-5-sonnet@20241022", resp.Model)
	assert.Equal(t, "bonjour", resp.Choices[0].Message.Text())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}

func TestStreamComplete_ParsesEventGrammar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\n")
		_, _ = io.WriteString(w, `data: {"type":"message_start","message":{"id":"msg_03","model":"claude-3-5-sonnet","role":"assistant"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hey"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	p := New("proj-1", staticToken("tok"), WithBaseURL(srv.URL))
	stream, err := p.StreamComplete(context.Background(), &types.ChatRequest{
		Model:    "claude-3-5-sonnet@20241022",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	})
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "msg_03", first.ID)
	assert.Equal(t, "claude-3-5-sonnet@20241022", first.Model)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hey", second.Choices[0].Delta.Content)
	assert.Equal(t, "claude-3-5-sonnet@20241022", second.Model)

	third, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "stop", third.Choices[0].FinishReason)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestMapError_GoogleEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p := New("proj-1", staticToken("tok"), WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), &types.ChatRequest{
		Model:    "claude-3-5-sonnet@20241022",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	})
	require.Error(t, err)

	gwErr, ok := errors.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.StatusCode)
	assert.Contains(t, gwErr.Message, "Quota exceeded")
}

func TestHealth(t *testing.T) {
	p := New("proj-1", staticToken("tok"))
	require.NoError(t, p.Health(context.Background()))

	p = New("proj-1", failingTokenSource{})
	err := p.Health(context.Background())
	require.Error(t, err)

	gwErr, ok := errors.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
}

func TestListModels_Catalogue(t *testing.T) {
	p := New("proj-1", staticToken("tok"), WithID("vertex-eu"))
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 5)

	byID := make(map[string]types.Model, len(models))
	for _, m := range models {
		assert.Equal(t, "vertex-eu", m.Provider)
		assert.Equal(t, "anthropic", m.OwnedBy)
		assert.Equal(t, 200000, m.ContextLength)
		assert.True(t, m.Capabilities.Vision)
		byID[m.ID] = m
	}

	opus := byID["claude-opus-4-1@20250805"]
	assert.Equal(t, int64(1754438400), opus.Created)
	assert.Equal(t, 0.015, opus.Pricing.InputPer1K)
	assert.Equal(t, 0.075, opus.Pricing.OutputPer1K)
}

type staticGatewayToken string

func (s staticGatewayToken) Token() (string, error) {
	return string(s), nil
}

func TestNewFromConfig(t *testing.T) {
	pAny, err := NewFromConfig(provider.Config{
		ID:          "vertex-main",
		TokenSource: staticGatewayToken("tok"),
		ProjectID:   "proj-2",
		Location:    "us-east5",
	})
	require.NoError(t, err)

	p := pAny.(*Provider)
	assert.Equal(t, "vertex-main", p.ID())
	assert.Equal(t, "us-east5", p.location)
	assert.Equal(t, provider.TypeCloud, p.Type())

	req, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:    "claude-3-5-sonnet@20241022",
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hi")}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestNewFromConfig_APIKeyAsToken(t *testing.T) {
	pAny, err := NewFromConfig(provider.Config{
		APIKey:    "static-token",
		ProjectID: "proj-3",
	})
	require.NoError(t, err)

	p := pAny.(*Provider)
	tok, err := p.tokenSrc.Token()
	require.NoError(t, err)
	assert.Equal(t, "static-token", tok.AccessToken)
}

func TestNewFromConfig_RequiresProject(t *testing.T) {
	_, err := NewFromConfig(provider.Config{TokenSource: staticGatewayToken("tok")})
	require.Error(t, err)
}
