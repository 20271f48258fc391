// Package ingest implements the ingestion orchestrator (§4.12): the
// eleven-step validate → extract → chunk → embed/summarize/lexical-index →
// persist flow, with compensating deletes on any failure once the document
// row or its blobs exist.
//
// Grounded on the teacher's api/handlers.go UploadDocument handler for the
// overall request shape (read bytes, hash, delegate to services, return a
// summary struct), generalised from its single sequential SQLite write into
// the two-store write-then-compensate flow this specification requires,
// with the parallel embed/summarize/lexical-index fan-out bounded by
// golang.org/x/sync/errgroup per §5.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/authctx"
	"ragcore/internal/chunker"
	"ragcore/internal/embedding"
	"ragcore/internal/extractor"
	"ragcore/internal/lexical"
	"ragcore/internal/ragerr"
	"ragcore/internal/summarizer"
	"ragcore/internal/validator"
	"ragcore/models"
)

// DocumentStore is the relational-index subset of store.Store the
// orchestrator needs: duplicate-hash lookup, row insert/update, and the
// compensating delete on a failed ingest.
type DocumentStore interface {
	FindByHash(ctx context.Context, hash string) (*models.Document, error)
	InsertDocument(ctx context.Context, doc *models.Document) error
	InsertChunk(ctx context.Context, chunk models.Chunk) error
	UpdateChunkCount(ctx context.Context, documentID int64, count int) error
	DeleteByID(ctx context.Context, id int64) error
}

// BlobWriter is the blob-store subset of blobstore.Store the orchestrator
// needs: the four per-document uploads and the compensating delete.
type BlobWriter interface {
	UploadOriginal(ctx context.Context, uuid string, data []byte, mimeType string) error
	UploadExtractedText(ctx context.Context, uuid string, text string) error
	UploadLexicalIndex(ctx context.Context, uuid string, index models.LexicalIndex) error
	UploadChunks(ctx context.Context, uuid string, chunks []models.ChunkBody) error
	DeleteDocument(ctx context.Context, uuid string) []error
}

// Embedder runs the parallel embed/split stage; embedding.Engine satisfies
// it directly.
type Embedder interface {
	Run(ctx context.Context, spans []models.TextSpan) (*embedding.Result, error)
}

// Summarizer runs the summary/keyword extraction stage; summarizer.Extractor
// satisfies it directly.
type Summarizer interface {
	Extract(ctx context.Context, text string) summarizer.Result
}

// Orchestrator wires every ingestion-time component together.
type Orchestrator struct {
	Store        DocumentStore
	Blob         BlobWriter
	Embedding    Embedder
	Summarizer   Summarizer
	ChunkSize    int
	ChunkOverlap int
	Log          zerolog.Logger
}

// Ingest runs the full §4.12 flow for one uploaded file.
func (o *Orchestrator) Ingest(ctx context.Context, principal authctx.Principal, filename string, content []byte, userMetadata map[string]any) (*models.UploadResult, error) {
	hash := contentHash(content)

	existing, err := o.Store.FindByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check existing document: %w", err)
	}
	if existing != nil {
		return &models.UploadResult{
			DocID:         existing.ID,
			DocUUID:       existing.UUID,
			Filename:      existing.Filename,
			FileHash:      existing.ContentHash,
			ChunksCreated: 0,
			Message:       "document with this content already exists",
		}, nil
	}

	validated, err := validator.Validate(filename, content)
	if err != nil {
		return nil, err
	}

	text, err := extractor.Extract(filename, validated)
	if err != nil {
		return nil, err
	}

	spans := chunker.Chunk(text, chunker.Options{ChunkSize: o.ChunkSize, ChunkOverlap: o.ChunkOverlap})
	if len(spans) == 0 {
		return nil, ragerr.New(ragerr.KindTextExtractionEmpty, fmt.Sprintf("%q produced no chunks", filename))
	}

	var reserved []string
	for key := range userMetadata {
		if models.IsProtectedKey(key) {
			reserved = append(reserved, key)
		}
	}
	if len(reserved) > 0 {
		sort.Strings(reserved)
		return nil, ragerr.New(ragerr.KindProtectedMetadataKey, fmt.Sprintf("metadata keys reserved by the system: %s", strings.Join(reserved, ", ")))
	}

	var embedded *embedding.Result
	var summary summarizer.Result
	var lexIndex models.LexicalIndex

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := o.Embedding.Run(gctx, spans)
		if err != nil {
			return err
		}
		embedded = result
		return nil
	})
	g.Go(func() error {
		summary = o.Summarizer.Extract(gctx, text)
		return nil
	})
	g.Go(func() error {
		texts := make([]string, len(spans))
		for i, s := range spans {
			texts[i] = s.Text
		}
		lexIndex = lexical.BuildIndex(texts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &models.Document{
		Filename:     filename,
		MimeType:     validated.MimeType,
		SizeBytes:    int64(len(content)),
		ContentHash:  hash,
		UploadedBy:   principal.Email,
		UploadedAt:   time.Now().UTC(),
		UploadedVia:  "api",
		UserMetadata: userMetadata,
		Summary:      summary.Summary,
		Keywords:     summary.Keywords,
		TokenCount:   lexIndex.TokenCount,
	}
	if err := o.Store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := o.persist(ctx, doc, text, embedded, lexIndex, content, validated.MimeType); err != nil {
		o.compensate(doc)
		return nil, err
	}

	return &models.UploadResult{
		DocID:         doc.ID,
		DocUUID:       doc.UUID,
		Filename:      doc.Filename,
		FileHash:      doc.ContentHash,
		ChunksCreated: len(embedded.Spans),
		Splits:        embedded.Stats,
		Message:       "document ingested",
	}, nil
}

// persist runs steps 8-10: blob uploads, chunk row inserts, chunk_count
// update. Any failure here triggers the caller's compensation.
func (o *Orchestrator) persist(ctx context.Context, doc *models.Document, text string, embedded *embedding.Result, lexIndex models.LexicalIndex, original []byte, mimeType string) error {
	chunkBodies := make([]models.ChunkBody, len(embedded.Spans))
	for i, es := range embedded.Spans {
		chunkBodies[i] = models.ChunkBody{Text: es.Span.Text, Index: es.Span.ChunkIndex, Metadata: map[string]any{}}
	}

	if err := o.Blob.UploadOriginal(ctx, doc.UUID, original, mimeType); err != nil {
		return err
	}
	if err := o.Blob.UploadExtractedText(ctx, doc.UUID, text); err != nil {
		return err
	}
	if err := o.Blob.UploadLexicalIndex(ctx, doc.UUID, lexIndex); err != nil {
		return err
	}
	if err := o.Blob.UploadChunks(ctx, doc.UUID, chunkBodies); err != nil {
		return err
	}

	for _, es := range embedded.Spans {
		startChar, endChar := es.Span.StartChar, es.Span.EndChar
		chunk := models.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: es.Span.ChunkIndex,
			Embedding:  es.Embedding,
			StartChar:  &startChar,
			EndChar:    &endChar,
		}
		if err := o.Store.InsertChunk(ctx, chunk); err != nil {
			return err
		}
	}

	return o.Store.UpdateChunkCount(ctx, doc.ID, len(embedded.Spans))
}

// compensate performs best-effort cleanup of a partially-ingested document:
// delete its blobs, then its row. Errors are logged, not raised, since the
// original failure is what gets surfaced to the caller.
func (o *Orchestrator) compensate(doc *models.Document) {
	ctx := context.Background()
	if errs := o.Blob.DeleteDocument(ctx, doc.UUID); len(errs) > 0 {
		for _, e := range errs {
			o.Log.Warn().Err(e).Str("doc_uuid", doc.UUID).Msg("compensation: blob cleanup failed")
		}
	}
	if err := o.Store.DeleteByID(ctx, doc.ID); err != nil {
		o.Log.Warn().Err(err).Int64("doc_id", doc.ID).Msg("compensation: document row cleanup failed")
	}
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
