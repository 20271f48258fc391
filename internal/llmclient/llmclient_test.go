package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/models"
)

func TestChatCompletionReturnsFirstChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Choices: []models.ChatChoice{{Message: models.ChatCompletionMessage{Role: "assistant", Content: "hello"}}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	content, err := client.ChatCompletion(context.Background(), "test-model", []models.ChatCompletionMessage{{Role: "user", Content: "hi"}}, 0.1)
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestChatCompletionReturnsStatusErrorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	client := New(srv.URL)
	_, err := client.ChatCompletion(context.Background(), "test-model", nil, 0)
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.Status)
}

func TestEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.EmbeddingAPIResponse{
			Data: []models.EmbeddingResponseData{
				{Index: 1, Embedding: []float32{2}},
				{Index: 0, Embedding: []float32{1}},
			},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	vectors, err := client.Embed(context.Background(), "test-model", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vectors[0])
	assert.Equal(t, []float32{2}, vectors[1])
}

func TestRerankCallsConfiguredPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 0, "relevance_score": 0.9, "document": "doc a"}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	results, err := client.Rerank(context.Background(), "test-model", "/rerank", "query", []string{"doc a"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(429))
	assert.True(t, IsRetriable(500))
	assert.True(t, IsRetriable(503))
	assert.True(t, IsRetriable(504))
	assert.False(t, IsRetriable(400))
	assert.False(t, IsRetriable(200))
}
