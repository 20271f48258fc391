package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreZeroWithoutOverlap(t *testing.T) {
	s := New()
	got := s.Score([]string{"kubernetes"}, map[string]int{"docker": 5}, 100, nil)
	assert.Zero(t, got)
}

func TestScoreMonotonicInTermFrequency(t *testing.T) {
	s := New()
	low := s.Score([]string{"kubernetes"}, map[string]int{"kubernetes": 2}, 1000, nil)
	high := s.Score([]string{"kubernetes"}, map[string]int{"kubernetes": 20}, 1000, nil)
	assert.Greater(t, high, low)
}

func TestScoreSaturatesBelowBound(t *testing.T) {
	s := New()
	got := s.Score([]string{"a", "b"}, map[string]int{"a": 100000, "b": 100000}, 1000, nil)
	assert.Less(t, got, (s.K1+1)*2)
}

func TestScoreAppliesKeywordBoost(t *testing.T) {
	s := New()
	tf := map[string]int{"kubernetes": 10}
	base := s.Score([]string{"kubernetes"}, tf, 1000, nil)
	boosted := s.Score([]string{"kubernetes"}, tf, 1000, []string{"Kubernetes deployment"})
	assert.InDelta(t, base*DefaultBoost, boosted, 1e-9)
}

func TestScoreIgnoresEmptyInputs(t *testing.T) {
	s := New()
	assert.Zero(t, s.Score(nil, map[string]int{"a": 1}, 10, nil))
	assert.Zero(t, s.Score([]string{"a"}, nil, 10, nil))
}
