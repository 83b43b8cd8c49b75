package router

import (
	"github.com/cuongbtq/ms-media-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	statusHandler := handler.NewStatusHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	// Probes
	r.GET("/health", statusHandler.Health)
	r.GET("/healthz", statusHandler.Health)
	r.GET("/status", statusHandler.Status)

	// POST /test-job - Publish a sample compression job
	r.POST("/test-job", jobHandler.PublishTestJob)

	// API v1 routes, backed by the job ledger
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List ledger rows with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get one ledger row
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
