// Package testutil provides fixtures for end-to-end tests: a mock
// OpenAI-compatible upstream and a gateway instance wired against it.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// RecordedRequest stores one request the mock upstream received.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
	Time   time.Time
}

// MockResponse scripts the next reply from the mock upstream.
type MockResponse struct {
	Content    string
	StatusCode int
	Delay      time.Duration
}

// MockLLMServer simulates an OpenAI-compatible backend. Queue scripted
// responses with EnqueueResponse; without a queue every request gets
// the default content.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	queue    []MockResponse

	// Latency delays every response; a queued Delay adds to it.
	Latency time.Duration
	// StreamDelay spaces out SSE chunks.
	StreamDelay time.Duration
	// Models is what GET /models advertises.
	Models []string
	// DefaultContent is the reply when the queue is empty.
	DefaultContent string
}

// NewMockLLMServer starts a mock upstream serving chat completions,
// embeddings, and model listing.
func NewMockLLMServer(models ...string) *MockLLMServer {
	if len(models) == 0 {
		models = []string{"gpt-4o-mock"}
	}
	m := &MockLLMServer{
		Models:         models,
		DefaultContent: "mock response",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", m.handleChat)
	mux.HandleFunc("POST /embeddings", m.handleEmbeddings)
	mux.HandleFunc("GET /models", m.handleModels)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the base URL providers should point at.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Close shuts the mock down.
func (m *MockLLMServer) Close() { m.server.Close() }

// EnqueueResponse scripts the reply for the next chat request.
func (m *MockLLMServer) EnqueueResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, r)
}

// Requests returns a copy of everything received so far.
func (m *MockLLMServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ChatRequests counts chat completion calls.
func (m *MockLLMServer) ChatRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == "/chat/completions" {
			n++
		}
	}
	return n
}

// Reset clears recorded requests and the response queue.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
}

func (m *MockLLMServer) record(r *http.Request, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   body,
		Time:   time.Now(),
	})
}

func (m *MockLLMServer) next() MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		return r
	}
	return MockResponse{Content: m.DefaultContent}
}

func (m *MockLLMServer) handleChat(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.record(r, body)

	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &req)

	scripted := m.next()
	if delay := m.Latency + scripted.Delay; delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if scripted.StatusCode >= 400 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(scripted.StatusCode)
		fmt.Fprintf(w, `{"error":{"message":"scripted failure","type":"server_error"}}`)
		return
	}

	if req.Stream {
		m.streamChat(w, r, req.Model, scripted.Content)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": scripted.Content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     len(body) / 4,
			"completion_tokens": len(scripted.Content) / 4,
			"total_tokens":      len(body)/4 + len(scripted.Content)/4,
		},
	})
}

func (m *MockLLMServer) streamChat(w http.ResponseWriter, r *http.Request, model, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	send := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	// Two content words per chunk keeps the chunk count small.
	words := splitWords(content)
	for i := 0; i < len(words); i += 2 {
		end := i + 2
		if end > len(words) {
			end = len(words)
		}
		piece := joinWords(words[i:end], i > 0)
		send(map[string]any{"content": piece}, nil)
		if m.StreamDelay > 0 {
			select {
			case <-time.After(m.StreamDelay):
			case <-r.Context().Done():
				return
			}
		}
	}
	send(map[string]any{}, "stop")
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (m *MockLLMServer) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.record(r, body)

	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  req.Model,
		"data": []map[string]any{{
			"object":    "embedding",
			"index":     0,
			"embedding": []float64{0.1, 0.2, 0.3},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
	})
}

func (m *MockLLMServer) handleModels(w http.ResponseWriter, r *http.Request) {
	m.record(r, nil)

	data := make([]map[string]any, len(m.Models))
	for i, id := range m.Models {
		data[i] = map[string]any{"id": id, "object": "model", "owned_by": "mock"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, c := range s {
		if c == ' ' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func joinWords(words []string, leadingSpace bool) string {
	out := ""
	for i, w := range words {
		if i > 0 || leadingSpace {
			out += " "
		}
		out += w
	}
	return out
}
