// Package lexical implements the tokenisation and per-document
// term-frequency aggregation described in §4.5: lowercase, extract
// alphanumeric-with-hyphen tokens, drop stopwords and pure numbers, stem
// with the Snowball English algorithm.
//
// Grounded on original_source/src/bm25/tokenizer.py and
// original_source/src/bm25/stemmer.py (same regex, same stopword list,
// same pipeline order), with stemming provided by
// github.com/blevesearch/snowballstem — the Snowball implementation
// already present in the dependency pack via Aman-CERP-amanmcp's bleve
// stack — instead of reimplementing Porter2 by hand.
package lexical

import (
	"regexp"
	"strings"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"

	"ragcore/models"
)

// stopwords mirrors the Elasticsearch/Lucene standard English stopword
// list used by the tokenizer this package is grounded on.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

var tokenPattern = regexp.MustCompile(`\b[a-z0-9]+(?:-[a-z0-9]+)*\b`)
var pureNumberPattern = regexp.MustCompile(`^[0-9-]+$`)

// Tokenize runs the full pipeline: lowercase, extract, drop stopwords and
// pure numbers, stem. It is the same function used for both document
// ingestion and query-time BM25 term extraction.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	raw := tokenPattern.FindAllString(lower, -1)

	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		if pureNumberPattern.MatchString(t) {
			continue
		}
		tokens = append(tokens, stem(t))
	}
	return tokens
}

func stem(word string) string {
	env := snowballstem.NewEnv(word)
	english.Stem(env)
	return env.Current()
}

// BuildIndex aggregates term frequencies across every chunk of a document
// into the per-document lexical index (§3's LexicalIndex, no global IDF).
func BuildIndex(chunkTexts []string) models.LexicalIndex {
	tf := make(map[string]int)
	tokenCount := 0
	for _, text := range chunkTexts {
		for _, tok := range Tokenize(text) {
			tf[tok]++
			tokenCount++
		}
	}
	return models.LexicalIndex{TermFrequencies: tf, TokenCount: tokenCount}
}
