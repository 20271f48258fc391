// Package query implements the query orchestrator of §4.13: embed, vector
// search, optional hybrid BM25/RRF fusion, optional LLM rerank, and chunk
// text hydration.
//
// Grounded on the teacher's core/rag_service.go RAGService.Query for the
// overall shape (embed, search, assemble), generalised from its single
// vector-only lookup into the hybrid/rerank/hydrate pipeline this
// specification requires, with the two named rankings fused through
// internal/fusion the way intelligencedev-manifold's retrieve/fusion.go
// fuses its fts/vec pair.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ragcore/internal/bm25"
	"ragcore/internal/fusion"
	"ragcore/internal/lexical"
	"ragcore/internal/ragerr"
	"ragcore/internal/rerank"
	"ragcore/internal/store"
	"ragcore/models"
)

// QueryEmbedder embeds the query text; embedding.Provider (and so
// llmclient.Client) satisfies it directly.
type QueryEmbedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// VectorSearcher is the similarity-search subset of store.Store the
// orchestrator needs.
type VectorSearcher interface {
	SearchSimilar(ctx context.Context, queryVec []float32, topK int, minSimilarity float64, filterExpr map[string]any) ([]store.SimilarityResult, error)
}

// ChunkFetcher is the blob-store subset of blobstore.Store the orchestrator
// needs for hybrid scoring and hydration.
type ChunkFetcher interface {
	FetchLexicalIndex(ctx context.Context, uuid string) (models.LexicalIndex, error)
	FetchChunksWithMetadata(ctx context.Context, uuid string, indices []int) ([]models.ChunkBody, error)
}

// Orchestrator wires every query-time component together.
type Orchestrator struct {
	Embed           QueryEmbedder
	EmbedModel      string
	Search          VectorSearcher
	Blob            ChunkFetcher
	BM25            bm25.Scorer
	RRFK            int
	Reranker        rerank.Reranker // nil disables reranking regardless of the request
	BlobConcurrency int
	Log             zerolog.Logger
}

// candidate is the orchestrator's working representation of one result row
// as it flows through the hybrid/rerank/hydrate stages.
type candidate struct {
	ChunkID      int64
	ChunkIndex   int
	DocumentID   int64
	DocumentUUID string
	Filename     string
	UserMetadata map[string]any
	Similarity   float64
	ChunkText    string
	RerankScore  *float64
	Reasoning    string
	FetchError   bool
}

// Run executes the full §4.13 flow for one query request. req is mutated
// in place by Normalize.
func (o *Orchestrator) Run(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	req.Normalize()

	vectors, err := o.Embed.Embed(ctx, o.EmbedModel, []string{req.Query})
	if err != nil || len(vectors) == 0 || vectors[0] == nil {
		return nil, ragerr.Wrap(ragerr.KindEmbeddingFailure, "query embedding failed", err)
	}
	queryVec := vectors[0]

	kVector := req.TopK
	if req.Rerank {
		kVector = req.RerankCandidates
	}
	hybrid := req.UseHybrid != nil && *req.UseHybrid

	searchTopK := kVector
	if hybrid && searchTopK < 100 {
		searchTopK = 100
	}

	rows, err := o.Search.SearchSimilar(ctx, queryVec, searchTopK, req.MinSimilarity, req.Filters)
	if err != nil {
		return nil, err
	}

	candidates := toCandidates(rows)

	if hybrid {
		candidates, err = o.fuseHybrid(ctx, rows, req.Query, kVector)
		if err != nil {
			return nil, err
		}
	} else if len(candidates) > kVector {
		candidates = candidates[:kVector]
	}

	if req.Rerank && o.Reranker != nil {
		candidates, err = o.rerankCandidates(ctx, candidates, req.Query, req.TopK)
		if err != nil {
			return nil, err
		}
	} else if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	if err := o.hydrate(ctx, candidates); err != nil {
		return nil, err
	}

	results := make([]models.QueryResultItem, len(candidates))
	for i, c := range candidates {
		results[i] = models.QueryResultItem{
			ChunkText:    c.ChunkText,
			Similarity:   c.Similarity,
			ChunkIndex:   c.ChunkIndex,
			Filename:     c.Filename,
			DocumentID:   c.DocumentID,
			DocumentUUID: c.DocumentUUID,
			UserMetadata: c.UserMetadata,
			RerankScore:  c.RerankScore,
			Reasoning:    c.Reasoning,
			FetchError:   c.FetchError,
		}
	}

	return &models.QueryResponse{Query: req.Query, Results: results, Total: len(results)}, nil
}

func toCandidates(rows []store.SimilarityResult) []candidate {
	out := make([]candidate, len(rows))
	for i, r := range rows {
		out[i] = candidate{
			ChunkID:      r.ChunkID,
			ChunkIndex:   r.ChunkIndex,
			DocumentID:   r.DocumentID,
			DocumentUUID: r.DocumentUUID,
			Filename:     r.Filename,
			UserMetadata: r.UserMetadata,
			Similarity:   r.Similarity,
		}
	}
	return out
}

// fuseHybrid implements step 3: per-document BM25 scoring fetched in
// parallel, fused against the vector ranking by RRF, truncated to kVector.
func (o *Orchestrator) fuseHybrid(ctx context.Context, rows []store.SimilarityResult, query string, kVector int) ([]candidate, error) {
	byUUID := make(map[string]store.SimilarityResult)
	for _, r := range rows {
		if _, ok := byUUID[r.DocumentUUID]; !ok {
			byUUID[r.DocumentUUID] = r
		}
	}

	queryTerms := lexical.Tokenize(query)
	bm25Scores := make(map[string]float64, len(byUUID))
	var mu sync.Mutex

	concurrency := o.BlobConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for uuid, rep := range byUUID {
		uuid, rep := uuid, rep
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, ragerr.Wrap(ragerr.KindBlobReadFailure, "lexical index fetch deadline exceeded", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			idx, err := o.Blob.FetchLexicalIndex(gctx, uuid)
			if err != nil {
				o.Log.Warn().Err(err).Str("doc_uuid", uuid).Msg("lexical index fetch failed, scoring as zero")
				return nil
			}
			score := o.BM25.Score(queryTerms, idx.TermFrequencies, idx.TokenCount, rep.Keywords)
			mu.Lock()
			bm25Scores[uuid] = score
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vectorRanking := fusion.Ranking{Name: "vector"}
	bm25Ranking := fusion.Ranking{Name: "bm25"}

	byChunkID := make(map[string]store.SimilarityResult, len(rows))
	for _, r := range rows {
		id := chunkKey(r.ChunkID)
		byChunkID[id] = r
		vectorRanking.Items = append(vectorRanking.Items, id)
	}

	bm25Ordered := append([]store.SimilarityResult(nil), rows...)
	sort.SliceStable(bm25Ordered, func(i, j int) bool {
		return bm25Scores[bm25Ordered[i].DocumentUUID] > bm25Scores[bm25Ordered[j].DocumentUUID]
	})
	for _, r := range bm25Ordered {
		bm25Ranking.Items = append(bm25Ranking.Items, chunkKey(r.ChunkID))
	}

	fused := fusion.Fuse([]fusion.Ranking{vectorRanking, bm25Ranking}, o.RRFK)
	if kVector > 0 && kVector < len(fused) {
		fused = fused[:kVector]
	}

	out := make([]candidate, 0, len(fused))
	for _, f := range fused {
		r, ok := byChunkID[f.ID]
		if !ok {
			continue
		}
		out = append(out, candidate{
			ChunkID:      r.ChunkID,
			ChunkIndex:   r.ChunkIndex,
			DocumentID:   r.DocumentID,
			DocumentUUID: r.DocumentUUID,
			Filename:     r.Filename,
			UserMetadata: r.UserMetadata,
			Similarity:   r.Similarity,
		})
	}
	return out, nil
}

// rerankCandidates implements step 4: hydrate current candidate texts,
// call the reranker, and replace the candidate list with its order.
func (o *Orchestrator) rerankCandidates(ctx context.Context, candidates []candidate, query string, topK int) ([]candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	if err := o.hydrate(ctx, candidates); err != nil {
		return nil, err
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.ChunkText
	}

	results, err := o.Reranker.Rerank(ctx, query, texts, topK)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		score := r.Score
		c.RerankScore = &score
		c.Reasoning = r.Reasoning
		out = append(out, c)
	}
	return out, nil
}

// hydrate implements step 5: fetch any candidate's chunk text still unset,
// grouped by document uuid, in parallel. A fetch failure for one document
// is non-fatal: its chunks get fetch_error=true and an empty body.
func (o *Orchestrator) hydrate(ctx context.Context, candidates []candidate) error {
	byDoc := make(map[string][]int)
	for i, c := range candidates {
		if c.ChunkText == "" {
			byDoc[c.DocumentUUID] = append(byDoc[c.DocumentUUID], i)
		}
	}
	if len(byDoc) == 0 {
		return nil
	}

	concurrency := o.BlobConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for uuid, idxList := range byDoc {
		uuid, idxList := uuid, idxList
		if err := sem.Acquire(gctx, 1); err != nil {
			return ragerr.Wrap(ragerr.KindBlobReadFailure, "chunk hydration deadline exceeded", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			chunkIndices := make([]int, len(idxList))
			for j, ci := range idxList {
				chunkIndices[j] = candidates[ci].ChunkIndex
			}
			bodies, err := o.Blob.FetchChunksWithMetadata(gctx, uuid, chunkIndices)
			if err != nil {
				o.Log.Warn().Err(err).Str("doc_uuid", uuid).Msg("chunk hydration failed")
				for _, ci := range idxList {
					candidates[ci].FetchError = true
				}
				return nil
			}
			for j, ci := range idxList {
				candidates[ci].ChunkText = bodies[j].Text
			}
			return nil
		})
	}
	return g.Wait()
}

func chunkKey(id int64) string {
	return fmt.Sprintf("chunk:%d", id)
}
