package types_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/pkg/types"
)

func TestEmbeddingInput_UnmarshalInference(t *testing.T) {
	var input types.EmbeddingInput

	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &input))
	require.NotNil(t, input.Text)
	assert.Equal(t, "hello", *input.Text)

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &input))
	assert.Nil(t, input.Text)
	assert.Equal(t, []string{"a", "b"}, input.Texts)

	require.NoError(t, json.Unmarshal([]byte(`[1,2,3]`), &input))
	assert.Equal(t, []int{1, 2, 3}, input.Tokens)

	require.NoError(t, json.Unmarshal([]byte(`[[1,2],[3,4]]`), &input))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}}, input.TokensList)
}

func TestEmbeddingInput_UnmarshalRejects(t *testing.T) {
	var input types.EmbeddingInput

	require.Error(t, json.Unmarshal([]byte(`null`), &input))
	require.Error(t, json.Unmarshal([]byte(`{"text":"x"}`), &input))
	require.Error(t, json.Unmarshal([]byte(`3.14`), &input))
}

func TestEmbeddingInput_MarshalExactlyOneField(t *testing.T) {
	empty := &types.EmbeddingInput{}
	_, err := json.Marshal(empty)
	require.Error(t, err)

	s := "hi"
	double := &types.EmbeddingInput{Text: &s, Tokens: []int{1}}
	_, err = json.Marshal(double)
	require.Error(t, err)

	data, err := json.Marshal(types.NewEmbeddingInputFromStrings([]string{"a", "b"}))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))
}

func TestEmbeddingInput_Validate(t *testing.T) {
	require.NoError(t, types.NewEmbeddingInputFromString("x").Validate())
	require.NoError(t, types.NewEmbeddingInputFromStrings([]string{"a"}).Validate())
	require.NoError(t, types.NewEmbeddingInputFromTokens([]int{1}).Validate())
	require.NoError(t, (&types.EmbeddingInput{TokensList: [][]int{{1, 2}}}).Validate())

	require.Error(t, types.NewEmbeddingInputFromString("").Validate())
	require.Error(t, types.NewEmbeddingInputFromStrings([]string{}).Validate())
	require.Error(t, types.NewEmbeddingInputFromStrings([]string{"a", ""}).Validate())
	require.Error(t, types.NewEmbeddingInputFromTokens([]int{}).Validate())
	require.Error(t, (&types.EmbeddingInput{TokensList: [][]int{{1}, {}}}).Validate())
	require.Error(t, (&types.EmbeddingInput{}).Validate())
}

func TestEmbeddingInput_IsEmpty(t *testing.T) {
	assert.True(t, (&types.EmbeddingInput{}).IsEmpty())
	assert.False(t, types.NewEmbeddingInputFromString("x").IsEmpty())
	assert.False(t, (&types.EmbeddingInput{TokensList: [][]int{{1}}}).IsEmpty())
}

func TestEmbeddingInput_TextFragments(t *testing.T) {
	assert.Equal(t, []string{"x"}, types.NewEmbeddingInputFromString("x").TextFragments())
	assert.Equal(t, []string{"a", "b"}, types.NewEmbeddingInputFromStrings([]string{"a", "b"}).TextFragments())
	assert.Nil(t, types.NewEmbeddingInputFromTokens([]int{1}).TextFragments())
}

func TestEmbeddingRequest_Unmarshal(t *testing.T) {
	jsonStr := `{
		"model": "text-embedding-3-small",
		"input": ["hello", "world"],
		"encoding_format": "float",
		"dimensions": 256
	}`

	var req types.EmbeddingRequest
	require.NoError(t, json.Unmarshal([]byte(jsonStr), &req))

	assert.Equal(t, "text-embedding-3-small", req.Model)
	require.NotNil(t, req.Input)
	assert.Equal(t, []string{"hello", "world"}, req.Input.Texts)
	assert.Equal(t, "float", req.EncodingFormat)
	assert.Equal(t, 256, req.Dimensions)
}

func TestEmbeddingRequest_Validate(t *testing.T) {
	ok := &types.EmbeddingRequest{
		Model: "text-embedding-3-small",
		Input: types.NewEmbeddingInputFromString("hello"),
	}
	require.NoError(t, ok.Validate())

	noModel := &types.EmbeddingRequest{Input: types.NewEmbeddingInputFromString("hello")}
	require.Error(t, noModel.Validate())

	noInput := &types.EmbeddingRequest{Model: "text-embedding-3-small"}
	err := noInput.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestEmbeddingResponse_Marshal(t *testing.T) {
	resp := types.EmbeddingResponse{
		Object: "list",
		Data: []types.EmbeddingObject{
			{Object: "embedding", Embedding: []float64{0.1, 0.2}, Index: 0},
		},
		Model: "text-embedding-3-small",
		Usage: types.Usage{PromptTokens: 2, TotalTokens: 2},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "list", m["object"])
}
