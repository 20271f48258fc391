package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ragcore/internal/authctx"
	"ragcore/internal/blobstore"
	"ragcore/internal/embedding"
	"ragcore/internal/ingest"
	"ragcore/internal/query"
	"ragcore/internal/ragerr"
	"ragcore/internal/store"
	"ragcore/models"
)

// Deps is every collaborator a handler needs; SetupRouter closes each route
// over this struct instead of package-level globals, unlike the teacher's
// package-level vectorDB/ragService pair.
type Deps struct {
	Store      *store.Store
	Blob       *blobstore.Store
	Ingest     *ingest.Orchestrator
	Query      *query.Orchestrator
	Embed      embedding.Provider
	EmbedModel string
	Auth       authctx.Verifier
	Log        zerolog.Logger
}

func (deps *Deps) respondError(c *gin.Context, err error) {
	kind := ragerr.KindOf(err)
	status := ragerr.HTTPStatus(kind)
	deps.Log.Warn().Err(err).Str("kind", string(kind)).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// UploadHandler implements POST /v1/documents/upload.
func (deps *Deps) UploadHandler(c *gin.Context) {
	principal, _ := authctx.FromContext(c.Request.Context())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}

	var userMetadata map[string]any
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &userMetadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be a JSON object"})
			return
		}
	}

	result, err := deps.Ingest.Ingest(c.Request.Context(), principal, fileHeader.Filename, content, userMetadata)
	if err != nil {
		deps.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"doc_id":           result.DocID,
		"doc_uuid":         result.DocUUID,
		"filename":         result.Filename,
		"file_hash":        result.FileHash,
		"chunks_created":   result.ChunksCreated,
		"splits_performed": result.Splits.SplitsPerformed,
		"max_split_depth":  result.Splits.MaxSplitDepth,
		"message":          result.Message,
	})
}

// QueryHandler implements POST /v1/query.
func (deps *Deps) QueryHandler(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := deps.Query.Run(c.Request.Context(), &req)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// EmbedHandler implements POST /v1/embed.
func (deps *Deps) EmbedHandler(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vectors, err := deps.Embed.Embed(c.Request.Context(), deps.EmbedModel, []string{req.Text})
	if err != nil || len(vectors) == 0 {
		deps.respondError(c, ragerr.Wrap(ragerr.KindEmbeddingFailure, "embedding call failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"embedding": vectors[0],
		"dimension": len(vectors[0]),
	})
}

// ListDocumentsHandler implements GET /v1/documents.
func (deps *Deps) ListDocumentsHandler(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	docs, err := deps.Store.ListDocuments(c.Request.Context(), limit, offset)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

// GetDocumentHandler implements GET /v1/documents/{id}.
func (deps *Deps) GetDocumentHandler(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, err := deps.Store.GetDocument(c.Request.Context(), id)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetDocumentByHashHandler implements GET /v1/documents/by-hash/{hex64}.
func (deps *Deps) GetDocumentByHashHandler(c *gin.Context) {
	hash := c.Param("hash")
	doc, err := deps.Store.GetDocumentByHash(c.Request.Context(), hash)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DownloadHandler implements GET /v1/documents/{id}/download?format=original|extracted.
func (deps *Deps) DownloadHandler(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, err := deps.Store.GetDocument(c.Request.Context(), id)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	format := c.DefaultQuery("format", "original")
	switch format {
	case "extracted":
		text, err := deps.Blob.FetchExtractedText(c.Request.Context(), doc.UUID)
		if err != nil {
			deps.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
	case "original":
		data, err := deps.Blob.FetchOriginal(c.Request.Context(), doc.UUID)
		if err != nil {
			deps.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, doc.MimeType, data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be 'original' or 'extracted'"})
	}
}

// ListChunksHandler implements GET /v1/documents/{id}/chunks.
func (deps *Deps) ListChunksHandler(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	chunks, err := deps.Store.ListChunks(c.Request.Context(), id)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "chunks": chunks, "total": len(chunks)})
}

// ChunkContextHandler implements
// GET /v1/documents/{uuid}/chunks/{index}/context?before=N&after=M: it
// reconstructs continuous text around one chunk from the original extracted
// text using start_char/end_char, falling back to chunk-body concatenation
// when offsets are missing.
func (deps *Deps) ChunkContextHandler(c *gin.Context) {
	uuid := c.Param("uuid")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}
	before := queryInt(c, "before", 0)
	after := queryInt(c, "after", 0)

	target, ok := findChunkByUUIDAndIndex(deps, c, uuid, index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chunk not found"})
		return
	}

	if target.StartChar != nil && target.EndChar != nil {
		text, err := deps.Blob.FetchExtractedText(c.Request.Context(), uuid)
		if err != nil {
			deps.respondError(c, err)
			return
		}
		start := *target.StartChar - before
		if start < 0 {
			start = 0
		}
		end := *target.EndChar + after
		if end > len(text) {
			end = len(text)
		}
		c.JSON(http.StatusOK, gin.H{"chunk_index": index, "context": text[start:end]})
		return
	}

	indices := make([]int, 0, before+after+1)
	for i := index - before; i <= index+after; i++ {
		if i >= 0 {
			indices = append(indices, i)
		}
	}
	bodies, err := deps.Blob.FetchChunksWithMetadata(c.Request.Context(), uuid, indices)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	var b strings.Builder
	for i, body := range bodies {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(body.Text)
	}
	c.JSON(http.StatusOK, gin.H{"chunk_index": index, "context": b.String()})
}

// findChunkByUUIDAndIndex resolves a document by uuid and returns the
// requested chunk row. ListChunks is id-keyed, so this looks the document
// up by scanning its uuid through the documents table first.
func findChunkByUUIDAndIndex(deps *Deps, c *gin.Context, uuid string, index int) (models.Chunk, bool) {
	docs, err := deps.Store.ListDocuments(c.Request.Context(), 1000, 0)
	if err != nil {
		return models.Chunk{}, false
	}
	var documentID int64 = -1
	for _, d := range docs {
		if d.UUID == uuid {
			documentID = d.ID
			break
		}
	}
	if documentID == -1 {
		return models.Chunk{}, false
	}
	chunks, err := deps.Store.ListChunks(c.Request.Context(), documentID)
	if err != nil {
		return models.Chunk{}, false
	}
	for _, ch := range chunks {
		if ch.ChunkIndex == index {
			return ch, true
		}
	}
	return models.Chunk{}, false
}

// DeleteDocumentHandler implements DELETE /v1/documents/{id}.
func (deps *Deps) DeleteDocumentHandler(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, err := deps.Store.GetDocument(c.Request.Context(), id)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	if err := deps.Store.DeleteByID(c.Request.Context(), id); err != nil {
		deps.respondError(c, err)
		return
	}
	if errs := deps.Blob.DeleteDocument(c.Request.Context(), doc.UUID); len(errs) > 0 {
		for _, e := range errs {
			deps.Log.Warn().Err(e).Str("doc_uuid", doc.UUID).Msg("blob cleanup failed after document delete")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "document deleted", "doc_id": id})
}

// DeleteDocumentByHashHandler implements DELETE /v1/documents/by-hash/{hex64}.
func (deps *Deps) DeleteDocumentByHashHandler(c *gin.Context) {
	hash := c.Param("hash")
	info, err := deps.Store.DeleteByHash(c.Request.Context(), hash)
	if err != nil {
		deps.respondError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if errs := deps.Blob.DeleteDocument(c.Request.Context(), info.UUID); len(errs) > 0 {
		for _, e := range errs {
			deps.Log.Warn().Err(e).Str("doc_uuid", info.UUID).Msg("blob cleanup failed after document delete")
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted", "doc_id": info.ID})
}

// HealthHandler implements GET /v1/health: process liveness plus a best
// effort ping of the relational store and blob store.
func (deps *Deps) HealthHandler(c *gin.Context) {
	status := gin.H{"status": "ok", "service": "ragcore"}

	if deps.Store != nil && deps.Store.Pool != nil {
		if err := deps.Store.Pool.Ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}

	if deps.Blob != nil {
		if err := deps.Blob.Ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["blob_store"] = "unreachable"
		} else {
			status["blob_store"] = "ok"
		}
	}

	c.JSON(http.StatusOK, status)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func paramInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
