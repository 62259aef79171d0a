package omen

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

type fakeProvider struct {
	id        string
	models    []string
	replyText string
}

func (p *fakeProvider) ID() string                   { return p.id }
func (p *fakeProvider) Name() string                 { return p.id }
func (p *fakeProvider) Type() provider.Type          { return provider.TypeLocal }
func (p *fakeProvider) Health(context.Context) error { return nil }

func (p *fakeProvider) ListModels(context.Context) ([]types.Model, error) {
	out := make([]types.Model, len(p.models))
	for i, m := range p.models {
		out[i] = types.Model{ID: m, Object: "model", OwnedBy: p.id}
	}
	return out, nil
}

func (p *fakeProvider) Complete(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return &types.ChatResponse{
		ID:     "resp-1",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: types.RoleAssistant, Content: types.TextContent(p.replyText)},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{PromptTokens: 5, CompletionTokens: 10, TotalTokens: 15},
	}, nil
}

func (p *fakeProvider) StreamComplete(_ context.Context, req *types.ChatRequest) (provider.ChunkStream, error) {
	return provider.NewSliceStream([]*types.StreamChunk{
		{Object: "chat.completion.chunk", Model: req.Model, Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: p.replyText}}}},
		{Object: "chat.completion.chunk", Model: req.Model, Choices: []types.StreamChoice{{FinishReason: "stop"}}},
	}), nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Health.Enabled = false
	return cfg
}

func newGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithConfig(testConfig()), WithLogger(logger)}, opts...)
	gw, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func chatRequest(model string) *types.ChatRequest {
	return &types.ChatRequest{
		Model:    model,
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.TextContent("hello")}},
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(WithConfig(testConfig()), WithLogger(logger)); err == nil {
		t.Fatal("expected error with no providers")
	}
}

func TestGateway_Complete(t *testing.T) {
	gw := newGateway(t, WithProvider(&fakeProvider{id: "local", models: []string{"llama3"}, replyText: "hi"}))

	resp, err := gw.Complete(context.Background(), chatRequest("llama3"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := resp.Choices[0].Message.Text(); got != "hi" {
		t.Fatalf("content = %q, want %q", got, "hi")
	}
}

func TestGateway_CompleteStream(t *testing.T) {
	gw := newGateway(t, WithProvider(&fakeProvider{id: "local", models: []string{"llama3"}, replyText: "hi"}))

	stream, err := gw.CompleteStream(context.Background(), chatRequest("llama3"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		text.WriteString(chunk.DeltaContent())
	}
	if text.String() != "hi" {
		t.Fatalf("streamed text = %q, want %q", text.String(), "hi")
	}
	if stream.Winner() != "local" {
		t.Fatalf("winner = %q, want local", stream.Winner())
	}
}

func TestGateway_HandlerServesChat(t *testing.T) {
	gw := newGateway(t, WithProvider(&fakeProvider{id: "local", models: []string{"llama3"}, replyText: "hi"}))

	body, _ := json.Marshal(chatRequest("llama3"))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp types.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Choices[0].Message.Text() != "hi" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestGateway_AuthRejectsBadKey(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.MasterKey = "sk-master"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(
		WithConfig(cfg),
		WithLogger(logger),
		WithProvider(&fakeProvider{id: "local", models: []string{"llama3"}, replyText: "hi"}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })

	body, _ := json.Marshal(chatRequest("llama3"))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	req.Header.Set("Authorization", "Bearer sk-wrong")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	req.Header.Set("Authorization", "Bearer sk-master")
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("master key status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestGateway_CloseIsIdempotent(t *testing.T) {
	gw := newGateway(t, WithProvider(&fakeProvider{id: "local", models: []string{"llama3"}, replyText: "hi"}))
	if err := gw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
