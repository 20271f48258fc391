// Package models holds the data model shared by the ingestion and query
// pipelines: documents, chunks, the lexical index, and the request/response
// shapes the orchestrators produce for the api layer.
package models

import "time"

// ProtectedMetadataKeys are the user_metadata keys the system owns. Ingest
// MUST reject any upload whose metadata map intersects this set.
var ProtectedMetadataKeys = map[string]struct{}{
	"uploaded_by":       {},
	"uploaded_at":       {},
	"uploaded_via":      {},
	"filename":          {},
	"file_type":         {},
	"file_size":         {},
	"content_hash":      {},
	"chunk_count":       {},
	"doc_id":            {},
	"doc_uuid":          {},
	"created_at":        {},
	"updated_at":        {},
	"deleted_at":        {},
	"version":           {},
	"original_filename": {},
}

// IsProtectedKey reports whether key is a protected metadata key.
func IsProtectedKey(key string) bool {
	_, ok := ProtectedMetadataKeys[key]
	return ok
}

// Document is one logical ingested artefact.
type Document struct {
	ID           int64          `json:"doc_id"`
	UUID         string         `json:"doc_uuid"`
	Filename     string         `json:"filename"`
	MimeType     string         `json:"mime_type"`
	SizeBytes    int64          `json:"size_bytes"`
	ContentHash  string         `json:"content_hash"`
	ChunkCount   int            `json:"chunk_count"`
	UploadedBy   string         `json:"uploaded_by"`
	UploadedAt   time.Time      `json:"uploaded_at"`
	UploadedVia  string         `json:"uploaded_via"`
	UserMetadata map[string]any `json:"user_metadata"`
	Summary      string         `json:"summary,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	TokenCount   int            `json:"token_count,omitempty"`
}

// Chunk is one embedding-bearing segment of a document.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Embedding  []float32 `json:"-"`
	StartChar  *int      `json:"start_char,omitempty"`
	EndChar    *int      `json:"end_char,omitempty"`
}

// ChunkBody is the JSON shape persisted at {uuid}/chunks/{index:03d}.json.
type ChunkBody struct {
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata"`
}

// LexicalIndex is the per-document term-frequency map stored at
// {uuid}/bm25_doc_index.json. No global IDF table exists alongside it.
type LexicalIndex struct {
	TermFrequencies map[string]int `json:"term_frequencies"`
	TokenCount      int            `json:"token_count"`
}

// TextSpan is a chunking/splitting unit before embedding: the chunk text
// plus its character offsets into the extracted document text.
type TextSpan struct {
	Text       string
	StartChar  int
	EndChar    int
	ChunkIndex int
}

// SplitStats reports adaptive split-on-overflow activity from the
// embedding engine for a single ingest.
type SplitStats struct {
	SplitsPerformed int `json:"splits_performed"`
	MaxSplitDepth   int `json:"max_split_depth"`
}

// UploadResult is returned by the ingestion orchestrator.
type UploadResult struct {
	DocID         int64      `json:"doc_id"`
	DocUUID       string     `json:"doc_uuid"`
	Filename      string     `json:"filename"`
	FileHash      string     `json:"file_hash"`
	ChunksCreated int        `json:"chunks_created"`
	Splits        SplitStats `json:"-"`
	Message       string     `json:"message"`
}

// QueryRequest is the JSON body of POST /v1/query.
type QueryRequest struct {
	Query            string         `json:"query"`
	TopK             int            `json:"top_k"`
	MinSimilarity    float64        `json:"min_similarity"`
	Rerank           bool           `json:"rerank"`
	RerankCandidates int            `json:"rerank_candidates"`
	UseHybrid        *bool          `json:"use_hybrid"`
	Filters          map[string]any `json:"filters"`
}

// Normalize applies the defaults from §6 of the specification in place and
// returns the request for chaining.
func (r *QueryRequest) Normalize() *QueryRequest {
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.TopK > 20 {
		r.TopK = 20
	}
	if r.RerankCandidates <= 0 {
		r.RerankCandidates = 50
	}
	if r.RerankCandidates < 5 {
		r.RerankCandidates = 5
	}
	if r.RerankCandidates > 100 {
		r.RerankCandidates = 100
	}
	if r.UseHybrid == nil {
		hybrid := true
		r.UseHybrid = &hybrid
	}
	return r
}

// QueryResultItem is one row of the final query response.
type QueryResultItem struct {
	ChunkText    string         `json:"chunk_text"`
	Similarity   float64        `json:"similarity"`
	ChunkIndex   int            `json:"chunk_index"`
	Filename     string         `json:"filename"`
	DocumentID   int64          `json:"document_id"`
	DocumentUUID string         `json:"document_uuid"`
	UserMetadata map[string]any `json:"user_metadata"`
	RerankScore  *float64       `json:"rerank_score,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	FetchError   bool           `json:"fetch_error,omitempty"`
}

// QueryResponse is the JSON body returned from POST /v1/query.
type QueryResponse struct {
	Query   string            `json:"query"`
	Results []QueryResultItem `json:"results"`
	Total   int               `json:"total"`
}

// EmbeddingRequest mirrors the OpenAI-compatible /embeddings wire format
// the embedding provider speaks.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type EmbeddingResponseData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type EmbeddingAPIResponse struct {
	Data  []EmbeddingResponseData `json:"data"`
	Model string                  `json:"model"`
}

// ChatCompletionMessage, ChatCompletionRequest and ChatCompletionResponse
// mirror the OpenAI-compatible /chat/completions wire format used by both
// the summary/keyword extractor and the LLM reranker.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []ChatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
}

type ChatChoice struct {
	Message ChatCompletionMessage `json:"message"`
}

type ChatCompletionResponse struct {
	Choices []ChatChoice `json:"choices"`
	Model   string       `json:"model"`
}
