// Package chunker implements the overlapping semantic-boundary
// segmentation described in §4.3: a sliding window that only searches the
// final 20% of the window for a preferred boundary, in priority order
// double-newline > single-newline > sentence > word.
//
// Grounded on the sliding-window shape of
// intelligencedev-manifold/internal/rag/chunker/chunker.go's fixedChunk,
// generalised from its "nearest whitespace near target" heuristic to the
// specification's last-20%-window boundary search, which the distilled
// spec calls out by name as the fix for the degenerate-tiny-chunk failure
// mode of a naive nearest-boundary-from-start search.
package chunker

import (
	"strings"

	"ragcore/models"
)

// Defaults per §6.
const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200

	// boundarySearchFraction is the trailing slice of the window searched
	// for a preferred boundary (last 20%, per §4.3).
	boundarySearchFraction = 0.20
)

// Options parameterises the chunker.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultOptions returns the specification defaults.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// Chunk splits text into overlapping spans per §4.3. The returned spans are
// ordered and zero-indexed.
func Chunk(text string, opt Options) []models.TextSpan {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	if opt.ChunkOverlap < 0 {
		opt.ChunkOverlap = 0
	}
	if opt.ChunkOverlap >= opt.ChunkSize {
		opt.ChunkOverlap = opt.ChunkSize / 10
	}

	n := len(text)
	if n == 0 {
		return nil
	}

	var spans []models.TextSpan
	start := 0
	idx := 0
	for start < n {
		end := start + opt.ChunkSize
		if end >= n {
			end = n
		} else if boundary, ok := findBoundary(text, start, end); ok {
			end = boundary
		}

		if end <= start {
			end = min(start+1, n)
		}

		spans = append(spans, models.TextSpan{
			Text:       text[start:end],
			StartChar:  start,
			EndChar:    end,
			ChunkIndex: idx,
		})
		idx++

		if end >= n {
			break
		}

		next := end - opt.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return spans
}

// findBoundary searches the last boundarySearchFraction of [start, end) for
// a preferred separator, in priority order double-newline, single-newline,
// ". ", " ". It returns the index to truncate at (exclusive, including the
// separator) and whether a boundary was found.
func findBoundary(text string, start, end int) (int, bool) {
	windowLen := end - start
	searchFrom := end - int(float64(windowLen)*boundarySearchFraction)
	if searchFrom < start {
		searchFrom = start
	}
	tail := text[searchFrom:end]

	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(tail, sep); i >= 0 {
			cut := searchFrom + i + len(sep)
			if cut > start && cut <= end {
				return cut, true
			}
		}
	}
	return 0, false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// findNearestBoundary searches the entire [lo, hi) window for a preferred
// separator, in the same priority order as findBoundary; for the first
// separator that occurs in the window it returns the cut closest to target
// (the earlier one on a tie), rather than confining the search to a
// trailing fraction of the window. SplitHalf uses this instead of
// findBoundary because its window is already the tolerance band around the
// midpoint, not a whole chunk whose tail alone should be searched.
func findNearestBoundary(text string, lo, hi, target int) (int, bool) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if lo >= hi {
		return 0, false
	}
	window := text[lo:hi]

	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		best, bestDist, found := 0, 0, false
		for off := 0; off < len(window); {
			i := strings.Index(window[off:], sep)
			if i < 0 {
				break
			}
			cut := lo + off + i + len(sep)
			dist := cut - target
			if dist < 0 {
				dist = -dist
			}
			if cut > lo && cut <= hi && (!found || dist < bestDist) {
				best, bestDist, found = cut, dist, true
			}
			off += i + 1
		}
		if found {
			return best, true
		}
	}
	return 0, false
}

// SplitHalf splits text at the semantic boundary nearest the midpoint,
// searching the full tolerance window of ±20% of the text length around
// the midpoint, for the embedding engine's adaptive split-on-overflow
// (§4.4). It returns the two halves.
func SplitHalf(text string, overlap int) (first, second string) {
	n := len(text)
	if n < 2 {
		return text, ""
	}
	mid := n / 2
	tolerance := int(float64(n) * 0.20)
	lo := mid - tolerance
	if lo < 0 {
		lo = 0
	}
	hi := mid + tolerance
	if hi > n {
		hi = n
	}

	cut := mid
	if boundary, ok := findNearestBoundary(text, lo, hi, mid); ok {
		cut = boundary
	}
	if cut <= 0 || cut >= n {
		cut = mid
	}

	first = text[:cut]
	second = text[cut:]

	appendOverlap := overlap
	if maxOverlap := len(first) / 4; appendOverlap > maxOverlap {
		appendOverlap = maxOverlap
	}
	if appendOverlap > 0 {
		start := len(first) - appendOverlap
		if start < 0 {
			start = 0
		}
		second = first[start:] + second
	}
	return first, second
}
