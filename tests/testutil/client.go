package testutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TestClient is a thin HTTP client for the gateway surface.
type TestClient struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewTestClient creates a client against the gateway base URL.
func NewTestClient(base string) *TestClient {
	return &TestClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAPIKey returns a copy that sends the key as a bearer token.
func (c *TestClient) WithAPIKey(key string) *TestClient {
	clone := *c
	clone.apiKey = key
	return &clone
}

// Post sends a JSON body and returns the raw response.
func (c *TestClient) Post(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// Get fetches a path and returns the raw response.
func (c *TestClient) Get(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// PostJSON sends a JSON body and decodes the JSON reply into out.
// It returns the HTTP status code.
func (c *TestClient) PostJSON(path string, body, out any) (int, error) {
	resp, err := c.Post(path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w (body %s)", path, err, data)
		}
	}
	return resp.StatusCode, nil
}

// SSEEvent is one server-sent event from a streaming response.
type SSEEvent struct {
	Data string
}

// PostStream sends a streaming request and collects every SSE data
// event, including the [DONE] terminator.
func (c *TestClient) PostStream(path string, body any) ([]SSEEvent, *http.Response, error) {
	resp, err := c.Post(path, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, resp, fmt.Errorf("stream status %d: %s", resp.StatusCode, data)
	}

	var events []SSEEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, SSEEvent{Data: data})
		}
	}
	return events, resp, scanner.Err()
}
