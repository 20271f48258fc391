// Package bm25 implements the simplified, global-IDF-free BM25 scorer of
// §4.9, ported term-for-term from
// original_source/src/bm25/scorer.py's SimplifiedBM25: same constants,
// same formula, same keyword-boost semantics, same deliberate omission of
// a global IDF table (a distributed IDF table would serialise ingestion).
package bm25

import "strings"

// Defaults per §6.
const (
	DefaultK1        = 1.2
	DefaultB         = 0.75
	DefaultAvgDL     = 1000.0
	DefaultBoost     = 1.5
)

// Scorer computes the simplified BM25 score for a document given query
// terms, its term-frequency map, and LLM-extracted keywords.
type Scorer struct {
	K1    float64
	B     float64
	AvgDL float64
	Boost float64
}

// New builds a Scorer with the specification defaults.
func New() Scorer {
	return Scorer{K1: DefaultK1, B: DefaultB, AvgDL: DefaultAvgDL, Boost: DefaultBoost}
}

// Score computes the per-document BM25-like score for queryTerms against
// docTermFrequencies, with tokenCount as the document length and keywords
// as the optional LLM-extracted importance signal.
func (s Scorer) Score(queryTerms []string, docTermFrequencies map[string]int, tokenCount int, keywords []string) float64 {
	if len(queryTerms) == 0 || len(docTermFrequencies) == 0 {
		return 0
	}

	k1 := s.K1
	b := s.B
	avgdl := s.AvgDL
	if avgdl <= 0 {
		avgdl = DefaultAvgDL
	}

	var score float64
	for _, term := range queryTerms {
		tf := docTermFrequencies[term]
		if tf == 0 {
			continue
		}
		numerator := float64(tf) * (k1 + 1)
		denominator := float64(tf) + k1*(1-b+b*(float64(tokenCount)/avgdl))
		score += numerator / denominator
	}

	if len(keywords) > 0 && score > 0 {
		boostMultiplier := 1.0
		for _, term := range queryTerms {
			if termMatchesAnyKeyword(term, keywords) {
				boostMultiplier *= s.boostFactor()
			}
		}
		score *= boostMultiplier
	}

	return score
}

func (s Scorer) boostFactor() float64 {
	if s.Boost <= 0 {
		return DefaultBoost
	}
	return s.Boost
}

func termMatchesAnyKeyword(term string, keywords []string) bool {
	lowerTerm := strings.ToLower(term)
	for _, kw := range keywords {
		if strings.Contains(strings.ToLower(kw), lowerTerm) {
			return true
		}
	}
	return false
}
