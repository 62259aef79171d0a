package observability

import (
	"regexp"
	"strings"
)

// Redactor masks credentials and personal data before log lines leave
// the process. The gateway handles raw provider keys on every request,
// so anything that looks like one is scrubbed regardless of where it
// shows up in a message.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	re   *regexp.Regexp
	mask string
}

// providerKeyRules cover the key shapes of the upstream fleet plus the
// generic token forms the auth middleware accepts.
var providerKeyRules = []struct{ pattern, mask string }{
	{`sk-proj-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_OPENAI_PROJECT_KEY]"},
	{`sk-ant-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_ANTHROPIC_KEY]"},
	{`sk-[a-zA-Z0-9]{20,}`, "[REDACTED_OPENAI_KEY]"},
	{`xai-[a-zA-Z0-9]{20,}`, "[REDACTED_XAI_KEY]"},
	{`AIza[a-zA-Z0-9\-_]{35}`, "[REDACTED_GOOGLE_KEY]"},
	{`[a-f0-9]{32}`, "[REDACTED_API_KEY]"},
	{`Bearer\s+[a-zA-Z0-9\-_\.]+`, "Bearer [REDACTED]"},
	{`Authorization:\s*[^\s]+`, "Authorization: [REDACTED]"},
	{`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "[REDACTED_EMAIL]"},
	{`\+?[0-9]{1,3}[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`, "[REDACTED_PHONE]"},
	{`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`, "[REDACTED_CARD]"},
	{`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, "[REDACTED_SSN]"},
}

// NewRedactor builds a redactor loaded with the provider-key and PII
// rules above.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, rule := range providerKeyRules {
		r.AddPattern(rule.pattern, rule.mask)
	}
	return r
}

// AddPattern registers an extra rule. Invalid expressions are ignored.
func (r *Redactor) AddPattern(pattern, mask string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.rules = append(r.rules, redactRule{re: re, mask: mask})
}

// Redact applies every rule to the input.
func (r *Redactor) Redact(input string) string {
	out := input
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.mask)
	}
	return out
}

// sensitiveKeyFragments flags map keys whose values are masked outright
// instead of pattern-scanned.
var sensitiveKeyFragments = []string{
	"key", "token", "secret", "password", "auth", "credential",
}

// RedactMap masks sensitive keys and scans the remaining string values.
// Nested maps and slices are walked.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.redactValue(k, v)
	}
	return out
}

func (r *Redactor) redactValue(key string, value any) any {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return "[REDACTED]"
		}
	}

	switch v := value.(type) {
	case string:
		return r.Redact(v)
	case map[string]any:
		return r.RedactMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.redactValue("", item)
		}
		return out
	default:
		return value
	}
}

// sensitiveHeaders are the credential headers the gateway itself sends
// or accepts: the client-facing auth headers plus the per-provider key
// headers (azure api-key, anthropic x-api-key, gemini x-goog-api-key)
// and the Vault token.
var sensitiveHeaders = map[string]bool{
	"authorization":  true,
	"x-api-key":      true,
	"api-key":        true,
	"x-goog-api-key": true,
	"x-auth-token":   true,
	"x-vault-token":  true,
	"cookie":         true,
	"set-cookie":     true,
}

// RedactHeaders replaces credential header values wholesale.
func (r *Redactor) RedactHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = []string{"[REDACTED]"}
		} else {
			out[k] = v
		}
	}
	return out
}
