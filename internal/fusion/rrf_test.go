package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseMonotonicity(t *testing.T) {
	rankings := []Ranking{
		{Name: "vector", Items: []string{"a", "b", "c"}},
		{Name: "bm25", Items: []string{"b", "a", "c"}},
	}
	results := Fuse(rankings, DefaultK)
	require.Len(t, results, 3)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	expectedA := 1.0/float64(DefaultK+1) + 1.0/float64(DefaultK+2)
	expectedB := 1.0/float64(DefaultK+2) + 1.0/float64(DefaultK+1)
	assert.InDelta(t, expectedA, byID["a"].Score, 1e-9)
	assert.InDelta(t, expectedB, byID["b"].Score, 1e-9)
}

func TestFuseHandlesMissingFromOneRanking(t *testing.T) {
	rankings := []Ranking{
		{Name: "vector", Items: []string{"a", "b"}},
		{Name: "bm25", Items: []string{"b"}},
	}
	results := Fuse(rankings, DefaultK)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.ID == "a" {
			assert.Equal(t, 0, r.Ranks["bm25"])
		}
	}
}

func TestFuseSortsDescendingWithTieBreak(t *testing.T) {
	rankings := []Ranking{{Name: "only", Items: []string{"z", "a"}}}
	results := Fuse(rankings, DefaultK)
	require.Len(t, results, 2)
	assert.Equal(t, "z", results[0].ID)
	assert.Equal(t, "a", results[1].ID)
}

func TestFuseScoreDecreasesAsRankIncreases(t *testing.T) {
	top := Fuse([]Ranking{{Name: "r", Items: []string{"x", "y"}}}, DefaultK)
	bottom := Fuse([]Ranking{{Name: "r", Items: []string{"y", "x"}}}, DefaultK)
	var topX, bottomX float64
	for _, r := range top {
		if r.ID == "x" {
			topX = r.Score
		}
	}
	for _, r := range bottom {
		if r.ID == "x" {
			bottomX = r.Score
		}
	}
	assert.Greater(t, topX, bottomX)
}
