package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/llmgateway/internal/unified"
)

func TestBuildEmbeddingRequest(t *testing.T) {
	mc := testMergedConfig(t)

	req := &unified.UnifiedEmbeddingRequest{Inputs: []string{"a", "b"}}

	body, err := BuildEmbeddingRequest(mc, req)
	require.Nil(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "text-embedding-3-small", decoded["model"])
	assert.Equal(t, []any{"a", "b"}, decoded["input"])
}

func TestParseEmbeddingResponse_SortsByIndex(t *testing.T) {
	mc := testMergedConfig(t)

	body := []byte(`{
	  "data": [
	    {"index": 1, "embedding": [3.0, 4.0]},
	    {"index": 0, "embedding": [1.0, 2.0]}
	  ]
	}`)

	resp, err := ParseEmbeddingResponse(mc, body)
	require.Nil(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 0, resp.Data[0].Index)
	assert.Equal(t, []float64{1.0, 2.0}, resp.Data[0].Embedding)
	assert.Equal(t, 1, resp.Data[1].Index)
	assert.Equal(t, []float64{3.0, 4.0}, resp.Data[1].Embedding)
}

func TestParseEmbeddingResponse_MissingDataList(t *testing.T) {
	mc := testMergedConfig(t)

	_, err := ParseEmbeddingResponse(mc, []byte(`{}`))
	require.NotNil(t, err)
}

func TestBuildEmbeddingRequest_NoEmbeddingAPI(t *testing.T) {
	mc := testMergedConfig(t)
	mc.Template.EmbeddingAPI = nil

	_, err := BuildEmbeddingRequest(mc, &unified.UnifiedEmbeddingRequest{Inputs: []string{"a"}})
	require.NotNil(t, err)
	assert.Equal(t, "embedding_disabled", string(err.Kind))
}
