package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"truckpress/internal/ports"
)

// Pipeline is the slice of the orchestrator the control surface needs.
type Pipeline interface {
	TriggerIngestionAsync(ctx context.Context) error
	Busy() bool
}

// HealthChecker reports storage availability.
type HealthChecker func(ctx context.Context) error

// NewRouter creates and configures the gin router for the thin control
// surface: service status, health, manual ingestion trigger, and queue
// inspection.
func NewRouter(pipeline Pipeline, articles ports.ArticleRepository, posts ports.PostRepository, health HealthChecker, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	h := &handlers{
		pipeline: pipeline,
		articles: articles,
		posts:    posts,
		health:   health,
	}

	router.GET("/", h.status)
	router.GET("/health", h.healthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/ingest", h.triggerIngest)
		v1.GET("/posts", h.listPosts)
		v1.GET("/posts/:id", h.getPost)
	}

	return router
}

func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
