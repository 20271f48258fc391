package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeDropsStopwordsAndNumbers(t *testing.T) {
	toks := Tokenize("BM25 scores: 0.95, 0.87, 0.73 and the rest")
	assert.Contains(t, toks, "bm25")
	assert.NotContains(t, toks, "and")
	assert.NotContains(t, toks, "the")
}

func TestTokenizeStemsWords(t *testing.T) {
	toks := Tokenize("architectures strategies communication")
	assert.Contains(t, toks, "architectur")
	assert.Contains(t, toks, "strategi")
	assert.Contains(t, toks, "communic")
}

func TestTokenizeKeepsAlphanumericTokens(t *testing.T) {
	toks := Tokenize("PostgreSQL 15.3 with pgvector")
	assert.Contains(t, toks, "postgresql")
	assert.Contains(t, toks, "pgvector")
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   "))
}

func TestBuildIndexAggregatesAcrossChunks(t *testing.T) {
	idx := BuildIndex([]string{"kubernetes deployment", "kubernetes pod kubernetes"})
	assert.Equal(t, 3, idx.TermFrequencies["kubernet"])
	assert.Greater(t, idx.TokenCount, 0)
}
