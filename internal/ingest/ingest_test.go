package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/authctx"
	"ragcore/internal/embedding"
	"ragcore/internal/summarizer"
	"ragcore/models"
)

type fakeStore struct {
	byHash       map[string]*models.Document
	inserted     *models.Document
	chunks       []models.Chunk
	chunkCount   int
	deletedID    int64
	insertErr    error
	chunkErr     error
	updateErr    error
	deleteCalled bool
}

func (f *fakeStore) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	if f.byHash == nil {
		return nil, nil
	}
	return f.byHash[hash], nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	doc.ID = 1
	doc.UUID = "doc-uuid-1"
	f.inserted = doc
	return nil
}

func (f *fakeStore) InsertChunk(ctx context.Context, chunk models.Chunk) error {
	if f.chunkErr != nil {
		return f.chunkErr
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStore) UpdateChunkCount(ctx context.Context, documentID int64, count int) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.chunkCount = count
	return nil
}

func (f *fakeStore) DeleteByID(ctx context.Context, id int64) error {
	f.deleteCalled = true
	f.deletedID = id
	return nil
}

type fakeBlob struct {
	uploadErr      error
	deleteDocCalls int
	uploadedChunks []models.ChunkBody
}

func (f *fakeBlob) UploadOriginal(ctx context.Context, uuid string, data []byte, mimeType string) error {
	return f.uploadErr
}
func (f *fakeBlob) UploadExtractedText(ctx context.Context, uuid string, text string) error {
	return f.uploadErr
}
func (f *fakeBlob) UploadLexicalIndex(ctx context.Context, uuid string, index models.LexicalIndex) error {
	return f.uploadErr
}
func (f *fakeBlob) UploadChunks(ctx context.Context, uuid string, chunks []models.ChunkBody) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploadedChunks = chunks
	return nil
}
func (f *fakeBlob) DeleteDocument(ctx context.Context, uuid string) []error {
	f.deleteDocCalls++
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Run(ctx context.Context, spans []models.TextSpan) (*embedding.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]embedding.EmbeddedSpan, len(spans))
	for i, s := range spans {
		s.ChunkIndex = i
		out[i] = embedding.EmbeddedSpan{Span: s, Embedding: []float32{0.1, 0.2}}
	}
	return &embedding.Result{Spans: out}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Extract(ctx context.Context, text string) summarizer.Result {
	return summarizer.Result{Summary: "a summary", Keywords: []string{"kw1"}}
}

func newOrchestrator() (*Orchestrator, *fakeStore, *fakeBlob) {
	st := &fakeStore{}
	bl := &fakeBlob{}
	return &Orchestrator{
		Store:        st,
		Blob:         bl,
		Embedding:    &fakeEmbedder{},
		Summarizer:   fakeSummarizer{},
		ChunkSize:    2000,
		ChunkOverlap: 200,
		Log:          zerolog.Nop(),
	}, st, bl
}

func longEnoughText() string {
	s := ""
	for i := 0; i < 50; i++ {
		s += "This is a sentence about something interesting and long enough. "
	}
	return s
}

func TestIngestHappyPath(t *testing.T) {
	o, st, bl := newOrchestrator()
	result, err := o.Ingest(context.Background(), authctx.Principal{Email: "a@b.com"}, "doc.txt", []byte(longEnoughText()), map[string]any{"team": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DocID)
	assert.Equal(t, "doc-uuid-1", result.DocUUID)
	assert.Greater(t, result.ChunksCreated, 0)
	assert.Equal(t, result.ChunksCreated, len(st.chunks))
	assert.Equal(t, result.ChunksCreated, len(bl.uploadedChunks))
	assert.Equal(t, result.ChunksCreated, st.chunkCount)
}

func TestIngestShortCircuitsOnDuplicateHash(t *testing.T) {
	o, st, _ := newOrchestrator()
	content := []byte(longEnoughText())
	hash := contentHash(content)
	st.byHash = map[string]*models.Document{hash: {ID: 99, UUID: "existing-uuid", Filename: "old.txt", ContentHash: hash}}

	result, err := o.Ingest(context.Background(), authctx.Principal{}, "doc.txt", content, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(99), result.DocID)
	assert.Equal(t, 0, result.ChunksCreated)
}

func TestIngestRejectsProtectedMetadataKey(t *testing.T) {
	o, _, _ := newOrchestrator()
	_, err := o.Ingest(context.Background(), authctx.Principal{}, "doc.txt", []byte(longEnoughText()), map[string]any{"doc_id": 1})
	require.Error(t, err)
}

func TestIngestCompensatesOnBlobUploadFailure(t *testing.T) {
	o, st, bl := newOrchestrator()
	bl.uploadErr = errors.New("s3 down")

	_, err := o.Ingest(context.Background(), authctx.Principal{}, "doc.txt", []byte(longEnoughText()), nil)
	require.Error(t, err)
	assert.True(t, st.deleteCalled)
	assert.Equal(t, int64(1), st.deletedID)
	assert.Equal(t, 1, bl.deleteDocCalls)
}

func TestIngestCompensatesOnChunkInsertFailure(t *testing.T) {
	o, st, bl := newOrchestrator()
	st.chunkErr = errors.New("db down")

	_, err := o.Ingest(context.Background(), authctx.Principal{}, "doc.txt", []byte(longEnoughText()), nil)
	require.Error(t, err)
	assert.True(t, st.deleteCalled)
	assert.Equal(t, 1, bl.deleteDocCalls)
}

func TestIngestFailsOnEmbeddingError(t *testing.T) {
	o, st, bl := newOrchestrator()
	o.Embedding = &fakeEmbedder{err: errors.New("embedding provider down")}

	_, err := o.Ingest(context.Background(), authctx.Principal{}, "doc.txt", []byte(longEnoughText()), nil)
	require.Error(t, err)
	// failure happens before the document row is inserted, so no compensation is needed.
	assert.False(t, st.deleteCalled)
	assert.Equal(t, 0, bl.deleteDocCalls)
}
