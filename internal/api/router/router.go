package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notesgen/notesgen-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "notesgen-service",
		})
	})

	// Initialize bulk handler
	bulkHandler := handler.NewBulkHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/presentations/:presentation_id/notes/bulk - Start a bulk job
		v1.POST("/presentations/:presentation_id/notes/bulk", bulkHandler.StartBulkGeneration)

		jobs := v1.Group("/bulk-jobs")
		{
			// GET /api/v1/bulk-jobs - List tracked jobs
			jobs.GET("", bulkHandler.ListBulkJobs)

			// GET /api/v1/bulk-jobs/:job_id - Get job status snapshot
			jobs.GET("/:job_id", bulkHandler.GetBulkStatus)

			// GET /api/v1/bulk-jobs/:job_id/stream - Stream progress over SSE
			jobs.GET("/:job_id/stream", bulkHandler.StreamProgress)

			// DELETE /api/v1/bulk-jobs/:job_id - Cancel a job
			jobs.DELETE("/:job_id", bulkHandler.CancelBulkJob)
		}
	}

	return r
}
