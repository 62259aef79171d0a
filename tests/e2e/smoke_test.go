// Package e2e exercises the gateway over HTTP against mock upstreams.
package e2e

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/tests/testutil"
)

func chatBody(model, prompt string) map[string]any {
	return map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
}

func startGateway(t *testing.T, opts ...testutil.ServerOption) (*testutil.MockLLMServer, *testutil.TestClient) {
	t.Helper()
	mock := testutil.NewMockLLMServer("gpt-4o-mock")
	t.Cleanup(mock.Close)

	opts = append([]testutil.ServerOption{
		testutil.WithMockProvider("mock", mock.URL(), "gpt-4o-mock"),
	}, opts...)
	server, err := testutil.NewTestServer(opts...)
	if err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(server.Close)

	return mock, testutil.NewTestClient(server.URL())
}

func TestChatCompletion(t *testing.T) {
	mock, client := startGateway(t)
	mock.DefaultContent = "the answer is 42"

	var resp struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	status, err := client.PostJSON("/v1/chat/completions", chatBody("gpt-4o-mock", "what is the answer"), &resp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if resp.Choices[0].Message.Content != "the answer is 42" {
		t.Fatalf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if mock.ChatRequests() != 1 {
		t.Fatalf("upstream calls = %d, want 1", mock.ChatRequests())
	}
}

func TestLegacyCompletions(t *testing.T) {
	mock, client := startGateway(t)
	mock.DefaultContent = "legacy text"

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	status, err := client.PostJSON("/v1/completions", map[string]any{
		"model":  "gpt-4o-mock",
		"prompt": "say something",
	}, &resp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if resp.Object != "text_completion" {
		t.Fatalf("object = %q", resp.Object)
	}
	if resp.Choices[0].Text != "legacy text" {
		t.Fatalf("text = %q", resp.Choices[0].Text)
	}
}

func TestEmbeddings(t *testing.T) {
	_, client := startGateway(t)

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	status, err := client.PostJSON("/v1/embeddings", map[string]any{
		"model": "gpt-4o-mock",
		"input": "embed me",
	}, &resp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) != 3 {
		t.Fatalf("unexpected embedding payload: %+v", resp.Data)
	}
}

func TestListModels(t *testing.T) {
	_, client := startGateway(t)

	resp, err := client.Get("/v1/models")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v (body %s)", err, body)
	}
	found := false
	for _, m := range list.Data {
		if m.ID == "gpt-4o-mock" {
			found = true
		}
	}
	if !found {
		t.Fatalf("gpt-4o-mock missing from %s", body)
	}
}

func TestHealthAndStatus(t *testing.T) {
	_, client := startGateway(t)

	for _, path := range []string{"/health", "/status", "/omen/providers", "/metrics"} {
		resp, err := client.Get(path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestUnknownModelRejected(t *testing.T) {
	_, client := startGateway(t)

	resp, err := client.Post("/v1/chat/completions", chatBody("no-such-model", "hi"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "error") {
		t.Fatalf("expected error envelope, got %s", body)
	}
}
