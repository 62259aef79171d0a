package types

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// EmbeddingInput represents the input for an embedding request. The wire
// format allows a single string, an array of strings, an array of token
// IDs, or an array of token ID arrays; unmarshaling infers which.
type EmbeddingInput struct {
	Text       *string
	Texts      []string
	Tokens     []int
	TokensList [][]int
}

// UnmarshalJSON tries string, []string, []int, then [][]int in order.
func (e *EmbeddingInput) UnmarshalJSON(data []byte) error {
	e.Text = nil
	e.Texts = nil
	e.Tokens = nil
	e.TokensList = nil

	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("input cannot be null")
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Text = &s
		return nil
	}

	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		e.Texts = ss
		return nil
	}

	var tokens []int
	if err := json.Unmarshal(data, &tokens); err == nil {
		e.Tokens = tokens
		return nil
	}

	var tokensList [][]int
	if err := json.Unmarshal(data, &tokensList); err == nil {
		e.TokensList = tokensList
		return nil
	}

	return fmt.Errorf("input must be string, []string, []int, or [][]int")
}

// MarshalJSON enforces that exactly one field is set.
func (e *EmbeddingInput) MarshalJSON() ([]byte, error) {
	set := 0
	if e.Text != nil {
		set++
	}
	if e.Texts != nil {
		set++
	}
	if e.Tokens != nil {
		set++
	}
	if e.TokensList != nil {
		set++
	}

	if set == 0 {
		return nil, fmt.Errorf("embedding input is empty")
	}
	if set > 1 {
		return nil, fmt.Errorf("embedding input must set exactly one field")
	}

	if e.Text != nil {
		return json.Marshal(*e.Text)
	}
	if e.Texts != nil {
		return json.Marshal(e.Texts)
	}
	if e.Tokens != nil {
		return json.Marshal(e.Tokens)
	}
	return json.Marshal(e.TokensList)
}

// Validate checks if the embedding input is valid (non-empty).
func (e *EmbeddingInput) Validate() error {
	if e.Text != nil {
		if *e.Text == "" {
			return fmt.Errorf("input string cannot be empty")
		}
		return nil
	}
	if e.Texts != nil {
		if len(e.Texts) == 0 {
			return fmt.Errorf("input array cannot be empty")
		}
		for i, s := range e.Texts {
			if s == "" {
				return fmt.Errorf("input array contains empty string at index %d", i)
			}
		}
		return nil
	}
	if e.Tokens != nil {
		if len(e.Tokens) == 0 {
			return fmt.Errorf("token array cannot be empty")
		}
		return nil
	}
	if e.TokensList != nil {
		if len(e.TokensList) == 0 {
			return fmt.Errorf("token list cannot be empty")
		}
		for i, tokens := range e.TokensList {
			if len(tokens) == 0 {
				return fmt.Errorf("token list contains empty array at index %d", i)
			}
		}
		return nil
	}
	return fmt.Errorf("input cannot be nil")
}

// IsEmpty returns true if no input is set.
func (e *EmbeddingInput) IsEmpty() bool {
	return e.Text == nil && e.Texts == nil && e.Tokens == nil && e.TokensList == nil
}

// TextFragments returns the string fragments of the input, if any.
// Token inputs yield nil; the estimator has nothing to count for them.
func (e *EmbeddingInput) TextFragments() []string {
	if e.Text != nil {
		return []string{*e.Text}
	}
	return e.Texts
}

// NewEmbeddingInputFromString creates an EmbeddingInput from a single string.
func NewEmbeddingInputFromString(s string) *EmbeddingInput {
	return &EmbeddingInput{Text: &s}
}

// NewEmbeddingInputFromStrings creates an EmbeddingInput from a string slice.
func NewEmbeddingInputFromStrings(ss []string) *EmbeddingInput {
	return &EmbeddingInput{Texts: ss}
}

// NewEmbeddingInputFromTokens creates an EmbeddingInput from token IDs.
func NewEmbeddingInputFromTokens(tokens []int) *EmbeddingInput {
	return &EmbeddingInput{Tokens: tokens}
}

// EmbeddingRequest represents an OpenAI-compatible embedding request.
type EmbeddingRequest struct {
	Model          string          `json:"model"`
	Input          *EmbeddingInput `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	User           string          `json:"user,omitempty"`
	Dimensions     int             `json:"dimensions,omitempty"`
}

// Validate checks if the embedding request is valid.
func (r *EmbeddingRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if r.Input == nil {
		return fmt.Errorf("input cannot be nil")
	}
	return r.Input.Validate()
}

// EmbeddingResponse represents an OpenAI-compatible embedding response.
type EmbeddingResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  string            `json:"model"`
	Usage  Usage             `json:"usage"`
}

// EmbeddingObject represents a single embedding object.
type EmbeddingObject struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}
