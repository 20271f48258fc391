package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMBatchRerankerSortsByScoreDescending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every batch call scores its first document higher.
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": `[{"index": 0, "relevance_score": 9, "reasoning": "on topic"}, {"index": 1, "relevance_score": 2, "reasoning": "off topic"}]`}}},
		})
	}))
	defer srv.Close()

	r, err := New(Config{Type: "llm", Model: "test-model", BaseURL: srv.URL, Log: zerolog.Nop()})
	require.NoError(t, err)

	docs := []string{"doc a", "doc b", "doc c", "doc d"}
	results, err := r.Rerank(context.Background(), "query", docs, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i := 0; i < len(results)-1; i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i+1].Score)
	}
}

func TestLLMBatchRerankerTruncatesToTopK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"index": 0, "relevance_score": 5, "reasoning": ""}, {"index": 1, "relevance_score": 5, "reasoning": ""}]`))
	}))
	defer srv.Close()

	r, err := New(Config{Type: "llm", Model: "test-model", BaseURL: srv.URL, Log: zerolog.Nop()})
	require.NoError(t, err)

	results, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFactoryCachesByKey(t *testing.T) {
	r1, err := New(Config{Type: "llm", Model: "m", BaseURL: "http://example.invalid", Log: zerolog.Nop()})
	require.NoError(t, err)
	r2, err := New(Config{Type: "llm", Model: "m", BaseURL: "http://example.invalid", Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := New(Config{Type: "unknown-variant", Model: "m", BaseURL: "http://example.invalid"})
	require.Error(t, err)
}

func TestCrossEncoderRerankerCallsRerankEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 0, "relevance_score": 0.8, "document": "x"}},
		})
	}))
	defer srv.Close()

	r, err := New(Config{Type: "cross-encoder", Model: "ce-model", BaseURL: srv.URL})
	require.NoError(t, err)
	results, err := r.Rerank(context.Background(), "q", []string{"x"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.8, results[0].Score)
}

func TestChunkIndices(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, chunkIndices(5, 2))
	assert.Nil(t, chunkIndices(0, 2))
}
