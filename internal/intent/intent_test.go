package intent

import (
	"testing"

	"github.com/ghostkellz/omen/pkg/types"
)

func chatReq(messages ...types.ChatMessage) *types.ChatRequest {
	return &types.ChatRequest{Model: "auto", Messages: messages}
}

func userMsg(text string) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleUser, Content: types.TextContent(text)}
}

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"code", "write a function that reverses a slice", Code},
		{"code implement", "please Implement quicksort", Code},
		{"tests", "add a unit test for the limiter", Tests},
		{"regex", "give me a regex for emails", Regex},
		{"pattern", "what pattern matches ISO dates", Regex},
		{"analysis", "analyze this stack trace", Analysis},
		{"review", "review my pull request description", Analysis},
		{"explanation", "explain how EMA smoothing works", Explanation},
		{"summarize", "summarize this document", Explanation},
		{"general", "what's the weather like", General},
		{"case insensitive", "EXPLAIN this please", Explanation},
	}

	c := NewKeywordClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(chatReq(userMsg(tc.text)))
			if got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassifyUsesLastUserMessage(t *testing.T) {
	req := chatReq(
		userMsg("write a function"),
		types.ChatMessage{Role: types.RoleAssistant, Content: types.TextContent("done")},
		userMsg("now explain it"),
	)

	if got := NewKeywordClassifier().Classify(req); got != Explanation {
		t.Errorf("Classify() = %q, want %q", got, Explanation)
	}
}

func TestClassifyEdgeCases(t *testing.T) {
	c := NewKeywordClassifier()

	if got := c.Classify(nil); got != General {
		t.Errorf("nil request: got %q, want %q", got, General)
	}
	if got := c.Classify(chatReq()); got != General {
		t.Errorf("no messages: got %q, want %q", got, General)
	}

	// Only system/assistant messages, no user turn.
	req := chatReq(types.ChatMessage{Role: types.RoleSystem, Content: types.TextContent("you write code")})
	if got := c.Classify(req); got != General {
		t.Errorf("no user message: got %q, want %q", got, General)
	}
}
