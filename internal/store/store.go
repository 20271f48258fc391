// Package store implements the relational metadata store of §4.7: document
// and chunk rows, vector similarity search and the delete/list surface
// behind the read-side HTTP routes.
//
// Grounded on intelligencedev-manifold's
// internal/persistence/databases/postgres_vector.go and pool.go (pgx/v5,
// pgxpool, the cosine-distance vector literal, the same "CREATE EXTENSION
// IF NOT EXISTS vector" bootstrap), rebased from the teacher's embedded
// SQLite + sqlite-vec (core/vector_db.go) onto PostgreSQL so that the
// filter compiler's JSONB operators have somewhere to run, and
// supplemented with the teacher's CRUD surface (ListDocuments,
// GetDocument) generalised onto pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/filter"
	"ragcore/internal/ragerr"
	"ragcore/models"
)

// Store is the relational metadata store backed by PostgreSQL + pgvector.
type Store struct {
	Pool      *pgxpool.Pool
	Dimension int
}

// New builds a Store and ensures its schema exists.
func New(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Store, error) {
	s := &Store{Pool: pool, Dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	uuid TEXT UNIQUE NOT NULL,
	content_hash TEXT UNIQUE NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	chunk_count INT NOT NULL DEFAULT 0,
	uploaded_by TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	uploaded_via TEXT NOT NULL DEFAULT 'api',
	user_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	summary TEXT NOT NULL DEFAULT '',
	keywords TEXT[] NOT NULL DEFAULT '{}',
	token_count INT NOT NULL DEFAULT 0
);`),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	embedding vector(%d) NOT NULL,
	start_char INT,
	end_char INT,
	UNIQUE(document_id, chunk_index)
);`, dimensionOrDefault(s.Dimension)),
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_user_metadata ON documents USING gin (user_metadata);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_keywords ON documents USING gin (keywords);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_by ON documents (uploaded_by);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents (uploaded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_mime_type ON documents (mime_type);`,
	}
	for _, stmt := range statements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func dimensionOrDefault(d int) int {
	if d <= 0 {
		return 768
	}
	return d
}

// FindByHash returns the document with the given content hash, or nil if
// none exists.
func (s *Store) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	return s.scanOneDocument(ctx, `SELECT id, uuid, content_hash, filename, mime_type, size_bytes, chunk_count,
		uploaded_by, uploaded_at, uploaded_via, user_metadata, summary, keywords, token_count
		FROM documents WHERE content_hash = $1`, hash)
}

// GetDocument returns the document with the given id, or nil if none exists.
func (s *Store) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	return s.scanOneDocument(ctx, `SELECT id, uuid, content_hash, filename, mime_type, size_bytes, chunk_count,
		uploaded_by, uploaded_at, uploaded_via, user_metadata, summary, keywords, token_count
		FROM documents WHERE id = $1`, id)
}

// GetDocumentByHash is an alias of FindByHash kept for the read-side route
// naming in §6.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*models.Document, error) {
	return s.FindByHash(ctx, hash)
}

func (s *Store) scanOneDocument(ctx context.Context, query string, arg any) (*models.Document, error) {
	row := s.Pool.QueryRow(ctx, query, arg)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var metadata map[string]any
	if err := row.Scan(&doc.ID, &doc.UUID, &doc.ContentHash, &doc.Filename, &doc.MimeType, &doc.SizeBytes,
		&doc.ChunkCount, &doc.UploadedBy, &doc.UploadedAt, &doc.UploadedVia, &metadata, &doc.Summary,
		&doc.Keywords, &doc.TokenCount); err != nil {
		return nil, err
	}
	doc.UserMetadata = metadata
	return &doc, nil
}

// InsertDocument persists a new document row, assigning ID and UUID.
// Returns a ragerr.KindDuplicateHash error if content_hash already exists.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc.UUID == "" {
		doc.UUID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}
	if doc.UserMetadata == nil {
		doc.UserMetadata = map[string]any{}
	}

	err := s.Pool.QueryRow(ctx, `
INSERT INTO documents (uuid, content_hash, filename, mime_type, size_bytes, chunk_count, uploaded_by,
	uploaded_at, uploaded_via, user_metadata, summary, keywords, token_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		doc.UUID, doc.ContentHash, doc.Filename, doc.MimeType, doc.SizeBytes, doc.ChunkCount,
		doc.UploadedBy, doc.UploadedAt, doc.UploadedVia, doc.UserMetadata, doc.Summary, doc.Keywords,
		doc.TokenCount,
	).Scan(&doc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ragerr.Wrap(ragerr.KindDuplicateHash, "a document with this content hash already exists", err)
		}
		return err
	}
	return nil
}

// InsertChunk upserts a chunk row keyed on (document_id, chunk_index).
func (s *Store) InsertChunk(ctx context.Context, chunk models.Chunk) error {
	vecLit := toVectorLiteral(chunk.Embedding)
	_, err := s.Pool.Exec(ctx, `
INSERT INTO chunks (document_id, chunk_index, embedding, start_char, end_char)
VALUES ($1, $2, $3::vector, $4, $5)
ON CONFLICT (document_id, chunk_index)
DO UPDATE SET embedding = EXCLUDED.embedding, start_char = EXCLUDED.start_char, end_char = EXCLUDED.end_char`,
		chunk.DocumentID, chunk.ChunkIndex, vecLit, chunk.StartChar, chunk.EndChar)
	return err
}

// UpdateChunkCount sets documents.chunk_count, the final step of ingest.
func (s *Store) UpdateChunkCount(ctx context.Context, documentID int64, count int) error {
	_, err := s.Pool.Exec(ctx, `UPDATE documents SET chunk_count = $1 WHERE id = $2`, count, documentID)
	return err
}

// SimilarityResult is one row of a similarity search, joined against its
// owning document for the fields the query pipeline needs without a
// second round trip.
type SimilarityResult struct {
	ChunkID      int64
	ChunkIndex   int
	DocumentID   int64
	DocumentUUID string
	Filename     string
	MimeType     string
	UserMetadata map[string]any
	Keywords     []string
	StartChar    *int
	EndChar      *int
	Similarity   float64
}

// SearchSimilar ranks chunks by cosine similarity to queryVec, restricted to
// rows at or above minSimilarity and matching filterExpr (compiled by
// internal/filter against the "d" alias).
func (s *Store) SearchSimilar(ctx context.Context, queryVec []float32, topK int, minSimilarity float64, filterExpr map[string]any) ([]SimilarityResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vecLit := toVectorLiteral(queryVec)

	compiler := filter.New("d")
	// $1 = vector literal, $2 = min_similarity, $3 = top_k; filter params continue from $4.
	compiled, err := compiler.Compile(filterExpr, 3)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT c.id, c.chunk_index, c.document_id, d.uuid, d.filename, d.mime_type, d.user_metadata, d.keywords,
	c.start_char, c.end_char, 1 - (c.embedding <=> $1::vector) AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE (1 - (c.embedding <=> $1::vector)) >= $2 AND (%s)
ORDER BY c.embedding <=> $1::vector ASC
LIMIT $3`, compiled.SQL)

	args := append([]any{vecLit, minSimilarity, topK}, compiled.Args...)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SimilarityResult, 0, topK)
	for rows.Next() {
		var r SimilarityResult
		var metadata map[string]any
		if err := rows.Scan(&r.ChunkID, &r.ChunkIndex, &r.DocumentID, &r.DocumentUUID, &r.Filename,
			&r.MimeType, &metadata, &r.Keywords, &r.StartChar, &r.EndChar, &r.Similarity); err != nil {
			return nil, err
		}
		r.UserMetadata = metadata
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeletedInfo is what DeleteByHash reports back about the document it
// removed, so the caller can clean up the matching blob-store prefix.
type DeletedInfo struct {
	ID   int64
	UUID string
}

// DeleteByID removes a document row and its chunks (cascade). Blob cleanup
// is the caller's responsibility.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// DeleteByHash removes a document by content hash, returning its id/uuid so
// the caller can delete the matching blob prefix, or nil if no such document
// exists.
func (s *Store) DeleteByHash(ctx context.Context, hash string) (*DeletedInfo, error) {
	var info DeletedInfo
	err := s.Pool.QueryRow(ctx, `DELETE FROM documents WHERE content_hash = $1 RETURNING id, uuid`, hash).
		Scan(&info.ID, &info.UUID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListDocuments returns documents ordered by most recently uploaded first,
// supplementing GET /v1/documents.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, uuid, content_hash, filename, mime_type, size_bytes, chunk_count,
		uploaded_by, uploaded_at, uploaded_via, user_metadata, summary, keywords, token_count
		FROM documents ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// ListChunks returns every chunk of a document ordered by index, backing
// GET /v1/documents/{id}/chunks and context reconstruction.
func (s *Store) ListChunks(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, document_id, chunk_index, start_char, end_char
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.StartChar, &c.EndChar); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
