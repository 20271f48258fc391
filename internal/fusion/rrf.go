// Package fusion implements Reciprocal Rank Fusion (§4.10) over an
// arbitrary number of named rankings sharing an identifier.
//
// Grounded on intelligencedev-manifold/internal/rag/retrieve/fusion.go's
// FuseRRF, generalised from its fixed two-ranking (fts/vec) shape to N
// named rankings, since the query orchestrator (§4.13) needs exactly two
// rankings today (vector, BM25) but the fuser itself should not hardcode
// that count.
package fusion

import "sort"

// DefaultK is the RRF denominator constant (§6, RRF_K).
const DefaultK = 60

// Ranking is one ordered list of item identifiers, best first (one-based
// rank is the position in this slice, plus one).
type Ranking struct {
	Name  string
	Items []string
}

// Result is one fused item with its RRF score and per-ranking rank detail.
type Result struct {
	ID    string
	Score float64
	Ranks map[string]int // ranking name -> one-based rank, 0 if absent
}

// Fuse computes RRF over the given rankings and returns items sorted by
// fused score descending, with a deterministic tie-break on ID.
func Fuse(rankings []Ranking, k int) []Result {
	if k <= 0 {
		k = DefaultK
	}

	positions := make(map[string]map[string]int, len(rankings))
	seen := make(map[string]struct{})
	var order []string

	for _, r := range rankings {
		pos := make(map[string]int, len(r.Items))
		for i, id := range r.Items {
			pos[id] = i + 1
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				order = append(order, id)
			}
		}
		positions[r.Name] = pos
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		ranks := make(map[string]int, len(rankings))
		var score float64
		for _, r := range rankings {
			rank := positions[r.Name][id]
			ranks[r.Name] = rank
			if rank > 0 {
				score += 1.0 / float64(k+rank)
			}
		}
		out = append(out, Result{ID: id, Score: score, Ranks: ranks})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
