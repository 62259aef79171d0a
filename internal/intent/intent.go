// Package intent classifies requests by purpose so the router can pick
// scoring weights and latency targets per use case.
package intent

import (
	"strings"

	"github.com/ghostkellz/omen/pkg/types"
)

// Recognized intents. General is the fallback.
const (
	Code        = "code"
	Tests       = "tests"
	Regex       = "regex"
	Analysis    = "analysis"
	Explanation = "explanation"
	General     = "general"
)

// Classifier maps a request to an intent label. Implementations must be
// safe for concurrent use.
type Classifier interface {
	Classify(req *types.ChatRequest) string
}

// keywordRule matches any of its keywords as a substring.
type keywordRule struct {
	intent   string
	keywords []string
}

// Rules are checked in order; the first hit wins. Code before tests so
// "implement a test helper" still lands on code only when the code
// keywords appear, and tests otherwise.
var keywordRules = []keywordRule{
	{Code, []string{"code", "function", "implement"}},
	{Tests, []string{"test", "unit test"}},
	{Regex, []string{"regex", "pattern"}},
	{Analysis, []string{"analyze", "review"}},
	{Explanation, []string{"explain", "summarize"}},
}

// KeywordClassifier classifies by substring match against the last user
// message. It is the default classifier; ML-based classifiers can
// replace it behind the Classifier interface.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify inspects the last user message and returns the matched
// intent, or General when nothing matches.
func (c *KeywordClassifier) Classify(req *types.ChatRequest) string {
	if req == nil {
		return General
	}

	text := lastUserMessage(req)
	if text == "" {
		return General
	}
	text = strings.ToLower(text)

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.intent
			}
		}
	}
	return General
}

// lastUserMessage returns the text of the most recent user message.
func lastUserMessage(req *types.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == types.RoleUser {
			return req.Messages[i].Text()
		}
	}
	return ""
}
