package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/llmclient"
	"ragcore/models"
)

type fakeProvider struct {
	maxLen int
	calls  int
}

func (f *fakeProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.maxLen > 0 && len(t) > f.maxLen {
			return nil, &llmclient.StatusError{Status: 400, Body: "input exceeds token limit"}
		}
		out[i] = []float32{float32(len(t)), 0.1, 0.2}
	}
	return out, nil
}

func TestRunEmbedsEverySpan(t *testing.T) {
	provider := &fakeProvider{}
	eng := New(provider, "test-model", 50)
	spans := []models.TextSpan{
		{Text: "hello world", StartChar: 0, EndChar: 11, ChunkIndex: 0},
		{Text: "goodbye world", StartChar: 11, EndChar: 24, ChunkIndex: 1},
	}
	result, err := eng.Run(context.Background(), spans)
	require.NoError(t, err)
	assert.Len(t, result.Spans, 2)
	assert.Equal(t, 0, result.Stats.SplitsPerformed)
}

func TestRunSplitsOnOverflow(t *testing.T) {
	provider := &fakeProvider{maxLen: 100}
	eng := New(provider, "test-model", 20)
	text := strings.Repeat("word ", 100) // far exceeds maxLen
	spans := []models.TextSpan{{Text: text, StartChar: 0, EndChar: len(text), ChunkIndex: 0}}

	result, err := eng.Run(context.Background(), spans)
	require.NoError(t, err)
	assert.Greater(t, len(result.Spans), 1)
	assert.Greater(t, result.Stats.SplitsPerformed, 0)
	assert.Greater(t, result.Stats.MaxSplitDepth, 0)

	for i, s := range result.Spans {
		assert.Equal(t, i, s.Span.ChunkIndex)
	}
}

func TestRunFailsAfterMaxDepth(t *testing.T) {
	provider := &fakeProvider{maxLen: 5}
	eng := New(provider, "test-model", 2)
	text := strings.Repeat("x", 1000)
	spans := []models.TextSpan{{Text: text, StartChar: 0, EndChar: len(text), ChunkIndex: 0}}

	_, err := eng.Run(context.Background(), spans)
	require.Error(t, err)
}
