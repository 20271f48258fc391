// Package rerank implements the polymorphic reranker of §4.11: a common
// interface over an LLM-batch reranker, a cross-encoder HTTP client, and
// an external-API reranker, selected by a factory and cached per process.
//
// Grounded on original_source/src/reranking/{base,factory}.py's interface
// shape (rerank/model_info/close, a factory-with-cache) and the teacher's
// core/llm_client.go chat-completion transport (via internal/llmclient) for
// the LLM-batch variant; the cross-encoder variant has no in-process Go
// inference runtime anywhere in the pack, so it is implemented as an HTTP
// client against an external scoring endpoint rather than a stub — a
// deliberate scope choice recorded in DESIGN.md.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ragcore/internal/llmclient"
	"ragcore/internal/ragerr"
	"ragcore/models"
)

// Result is one reranked candidate.
type Result struct {
	Index     int
	Score     float64
	Text      string
	Reasoning string
}

// Reranker is the capability set every variant implements.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)
	ModelInfo() string
	Close() error
}

// Config selects and configures a variant, mirroring §6's RERANKER_* env vars.
type Config struct {
	Enabled  bool
	Type     string // llm | cross-encoder | api
	Model    string
	BaseURL  string
	Log      zerolog.Logger
}

var cache = map[string]Reranker{}

// New is the factory: it builds (or returns a cached) Reranker for cfg,
// keyed by type+model+baseURL, mirroring the Python factory's per-process
// instance cache.
func New(cfg Config) (Reranker, error) {
	key := fmt.Sprintf("%s|%s|%s", cfg.Type, cfg.Model, cfg.BaseURL)
	if cached, ok := cache[key]; ok {
		return cached, nil
	}

	var r Reranker
	switch cfg.Type {
	case "", "llm":
		r = &llmBatchReranker{client: llmclient.New(cfg.BaseURL), model: cfg.Model, log: cfg.Log}
	case "cross-encoder":
		r = &crossEncoderReranker{client: llmclient.New(cfg.BaseURL), model: cfg.Model}
	case "api":
		r = &apiReranker{client: llmclient.New(cfg.BaseURL), model: cfg.Model}
	default:
		return nil, ragerr.New(ragerr.KindRerankerUnavailable, fmt.Sprintf("unknown reranker type %q", cfg.Type))
	}
	cache[key] = r
	return r, nil
}

// batchSize is the LLM-batch reranker's per-call document count (§4.11).
const batchSize = 2

// maxConcurrentBatches bounds parallel batch calls (§5).
const maxConcurrentBatches = 10

// llmBatchReranker scores documents in small batches via a chat-completion
// call, asking for a JSON array of {index, relevance_score, reasoning}.
type llmBatchReranker struct {
	client *llmclient.Client
	model  string
	log    zerolog.Logger
}

func (r *llmBatchReranker) ModelInfo() string { return "llm-batch:" + r.model }
func (r *llmBatchReranker) Close() error      { return nil }

func (r *llmBatchReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	batches := chunkIndices(len(documents), batchSize)
	results := make([]Result, len(documents))
	for i, doc := range documents {
		results[i] = Result{Index: i, Score: 0, Text: doc}
	}

	sem := semaphore.NewWeighted(maxConcurrentBatches)
	g, ctx := errgroup.WithContext(ctx)

	for _, batch := range batches {
		batch := batch
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, ragerr.Wrap(ragerr.KindRerankerUnavailable, "reranker batch deadline exceeded", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			scored, err := r.scoreBatch(ctx, query, documents, batch)
			if err != nil {
				r.log.Warn().Err(err).Msg("reranker batch failed, scoring as zero")
				return nil
			}
			for _, s := range scored {
				if s.localIndex < 0 || s.localIndex >= len(batch) {
					continue
				}
				globalIdx := batch[s.localIndex]
				results[globalIdx].Score = s.score
				results[globalIdx].Reasoning = s.reasoning
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

type batchScore struct {
	localIndex int
	score      float64
	reasoning  string
}

func (r *llmBatchReranker) scoreBatch(ctx context.Context, query string, documents []string, batch []int) ([]batchScore, error) {
	var b strings.Builder
	b.WriteString("Score the relevance of each document to the query on a scale of 0-10.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, globalIdx := range batch {
		fmt.Fprintf(&b, "Document %d:\n%s\n\n", i, documents[globalIdx])
	}
	b.WriteString(`Respond with a strictly valid JSON array: [{"index": 0, "relevance_score": 0, "reasoning": "..."}]`)

	messages := []models.ChatCompletionMessage{{Role: "user", Content: b.String()}}
	content, err := r.client.ChatCompletion(ctx, r.model, messages, 0)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Index     int     `json:"index"`
		Score     float64 `json:"relevance_score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSONArray(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode reranker response: %w", err)
	}

	out := make([]batchScore, 0, len(raw))
	for _, item := range raw {
		out = append(out, batchScore{localIndex: item.Index, score: item.Score / 10.0, reasoning: item.Reasoning})
	}
	return out, nil
}

func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}

func chunkIndices(n, size int) [][]int {
	var out [][]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		group := make([]int, 0, end-i)
		for j := i; j < end; j++ {
			group = append(group, j)
		}
		out = append(out, group)
	}
	return out
}

// crossEncoderReranker delegates pair-scoring to an external HTTP endpoint
// speaking a /rerank-style contract, since no in-process Go cross-encoder
// runtime is available in the pack.
type crossEncoderReranker struct {
	client *llmclient.Client
	model  string
}

func (r *crossEncoderReranker) ModelInfo() string { return "cross-encoder:" + r.model }
func (r *crossEncoderReranker) Close() error      { return nil }

func (r *crossEncoderReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	return remoteRerank(ctx, r.client, r.model, "/rerank", query, documents, topK)
}

// apiReranker calls a single vendor rerank endpoint and trusts its top-N
// ordering directly.
type apiReranker struct {
	client *llmclient.Client
	model  string
}

func (r *apiReranker) ModelInfo() string { return "api:" + r.model }
func (r *apiReranker) Close() error      { return nil }

func (r *apiReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	return remoteRerank(ctx, r.client, r.model, "/rerank", query, documents, topK)
}

func remoteRerank(ctx context.Context, client *llmclient.Client, model, path, query string, documents []string, topK int) ([]Result, error) {
	results, err := client.Rerank(ctx, model, path, query, documents, topK)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindRerankerUnavailable, "external reranker call failed", err)
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{Index: r.Index, Score: r.Score, Text: r.Text}
	}
	return out, nil
}
