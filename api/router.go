// Package api is the thin HTTP boundary of §6: request parsing,
// authentication, response shaping, and mapping ragerr.Kind to status
// codes. It holds no business logic — every handler delegates to an
// orchestrator or store method.
//
// Grounded on the teacher's api/router.go + api/handlers.go split and its
// gin.Default()-based engine, generalised from the teacher's
// collection/document CRUD surface onto the upload/query/document surface
// of §6.
package api

import (
	"github.com/gin-gonic/gin"

	"ragcore/internal/authctx"
)

// SetupRouter builds the gin engine wired against deps, mirroring the
// teacher's SetupRoutes but against the §6 HTTP surface.
func SetupRouter(deps *Deps) *gin.Engine {
	r := gin.Default()

	r.GET("/v1/health", deps.HealthHandler)

	v1 := r.Group("/v1")
	v1.Use(deps.authMiddleware())
	{
		v1.POST("/documents/upload", deps.UploadHandler)
		v1.POST("/query", deps.QueryHandler)
		v1.POST("/embed", deps.EmbedHandler)
		v1.GET("/documents", deps.ListDocumentsHandler)
		v1.GET("/documents/:id", deps.GetDocumentHandler)
		v1.GET("/documents/by-hash/:hash", deps.GetDocumentByHashHandler)
		v1.GET("/documents/:id/download", deps.DownloadHandler)
		v1.GET("/documents/:id/chunks", deps.ListChunksHandler)
		v1.GET("/documents/:uuid/chunks/:index/context", deps.ChunkContextHandler)
		v1.DELETE("/documents/:id", deps.DeleteDocumentHandler)
		v1.DELETE("/documents/by-hash/:hash", deps.DeleteDocumentByHashHandler)
	}

	return r
}

// authMiddleware verifies the inbound request with deps.Auth and attaches
// the resulting Principal to the request context; unauthorised requests
// are rejected with 403 per §6.
func (deps *Deps) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := deps.Auth.Verify(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(403, gin.H{"error": "unauthorized"})
			return
		}
		ctx := authctx.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Set("principal", principal)
		c.Next()
	}
}
