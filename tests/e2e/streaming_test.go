package e2e

import (
	"testing"
	"time"
)

func TestStreaming_DeltasAndTerminator(t *testing.T) {
	mock, client := startGateway(t)
	mock.DefaultContent = "one two three four"
	mock.StreamDelay = 5 * time.Millisecond

	body := chatBody("gpt-4o-mock", "count")
	body["stream"] = true

	events, resp, err := client.PostStream("/v1/chat/completions", body)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if text := collectDeltas(t, events); text != "one two three four" {
		t.Fatalf("streamed text = %q", text)
	}
	// Two words per upstream chunk plus the stop chunk and [DONE].
	if len(events) < 4 {
		t.Fatalf("events = %d, want at least 4", len(events))
	}
}

func TestStreaming_LegacyCompletions(t *testing.T) {
	mock, client := startGateway(t)
	mock.DefaultContent = "legacy stream"

	events, _, err := client.PostStream("/v1/completions", map[string]any{
		"model":  "gpt-4o-mock",
		"prompt": "go",
		"stream": true,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if events[len(events)-1].Data != "[DONE]" {
		t.Fatalf("last event = %q, want [DONE]", events[len(events)-1].Data)
	}

	var text string
	for _, ev := range events[:len(events)-1] {
		var chunk struct {
			Object  string `json:"object"`
			Choices []struct {
				Text string `json:"text"`
			} `json:"choices"`
		}
		if err := unmarshalEvent(ev.Data, &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", ev.Data, err)
		}
		if chunk.Object != "text_completion" {
			t.Fatalf("object = %q", chunk.Object)
		}
		for _, c := range chunk.Choices {
			text += c.Text
		}
	}
	if text != "legacy stream" {
		t.Fatalf("streamed text = %q", text)
	}
}
