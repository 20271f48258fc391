package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCoversWholeText(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	spans := Chunk(text, DefaultOptions())
	require.NotEmpty(t, spans)

	for i, s := range spans {
		assert.Equal(t, i, s.ChunkIndex)
		assert.Equal(t, text[s.StartChar:s.EndChar], s.Text)
	}
	last := spans[len(spans)-1]
	assert.Equal(t, len(text), last.EndChar)
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma ", 100)
	para2 := strings.Repeat("delta epsilon zeta ", 100)
	text := para1 + "\n\n" + para2

	opt := Options{ChunkSize: len(para1) + 50, ChunkOverlap: 10}
	spans := Chunk(text, opt)
	require.NotEmpty(t, spans)
	assert.True(t, strings.HasSuffix(spans[0].Text, "\n\n"))
}

func TestChunkSmallTextSingleSpan(t *testing.T) {
	spans := Chunk("hello world", DefaultOptions())
	require.Len(t, spans, 1)
	assert.Equal(t, "hello world", spans[0].Text)
}

func TestSplitHalfProducesOverlap(t *testing.T) {
	text := strings.Repeat("word ", 400)
	first, second := SplitHalf(text, 40)
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.Greater(t, len(first)+len(second), len(text), "second half should carry overlap from the end of first")
	assert.True(t, strings.HasSuffix(text, second[len(second)-(len(text)-len(first)):]))
}

// TestSplitHalfSearchesFullToleranceWindow guards against SplitHalf
// confining its boundary search to the last 20% of [lo, hi] (findBoundary's
// behaviour, meant for a whole chunk's tail): on this text a separator ends
// exactly at the midpoint, so a full-window nearest-to-midpoint search cuts
// there, while a last-20%-only search would land near hi, past the midpoint.
func TestSplitHalfSearchesFullToleranceWindow(t *testing.T) {
	text := strings.Repeat("word ", 400) // len 2000, mid 1000, tolerance window [600,1400)
	first, _ := SplitHalf(text, 0)
	mid := len(text) / 2
	assert.Equal(t, mid, len(first), "the cut nearest the midpoint in the full [lo,hi) window should be taken, not one biased toward hi")
}
