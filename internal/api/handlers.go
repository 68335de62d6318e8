package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"truckpress/internal/domain"
	"truckpress/internal/ports"
)

const defaultListLimit = 50

type handlers struct {
	pipeline Pipeline
	articles ports.ArticleRepository
	posts    ports.PostRepository
	health   HealthChecker
}

func (h *handlers) status(c *gin.Context) {
	ctx := c.Request.Context()

	processed, err := h.articles.CountProcessed(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	counts, err := h.posts.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service":            "truckpress",
		"status":             "active",
		"ingestion_running":  h.pipeline.Busy(),
		"articles_processed": processed,
		"posts": gin.H{
			"pending": counts[domain.StatusPending],
			"posting": counts[domain.StatusPosting],
			"posted":  counts[domain.StatusPosted],
			"failed":  counts[domain.StatusFailed],
		},
	})
}

func (h *handlers) healthCheck(c *gin.Context) {
	if err := h.health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (h *handlers) triggerIngest(c *gin.Context) {
	err := h.pipeline.TriggerIngestionAsync(c.Request.Context())
	if errors.Is(err, domain.ErrIngestionBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": "ingestion run already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "ingestion run started"})
}

func (h *handlers) listPosts(c *gin.Context) {
	status := domain.PostStatus(c.Query("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusPosting, domain.StatusPosted, domain.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	posts, err := h.posts.List(c.Request.Context(), status, defaultListLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": toPostViews(posts)})
}

func (h *handlers) getPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, toPostView(post))
}

type postView struct {
	ID             string                    `json:"id"`
	ArticleURL     string                    `json:"article_url"`
	Text           string                    `json:"text"`
	ScheduledTime  time.Time                 `json:"scheduled_time"`
	Status         domain.PostStatus         `json:"status"`
	ExternalPostID string                    `json:"external_post_id,omitempty"`
	Metrics        *domain.EngagementMetrics `json:"engagement_metrics,omitempty"`
	ErrorMessage   string                    `json:"error_message,omitempty"`
	PostedAt       *time.Time                `json:"posted_at,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

func toPostView(p domain.QueuedPost) postView {
	return postView{
		ID:             p.ID,
		ArticleURL:     p.ArticleURL,
		Text:           p.Text,
		ScheduledTime:  p.ScheduledTime,
		Status:         p.Status,
		ExternalPostID: p.ExternalPostID,
		Metrics:        p.Metrics,
		ErrorMessage:   p.ErrorMessage,
		PostedAt:       p.PostedAt,
		CreatedAt:      p.CreatedAt,
	}
}

func toPostViews(posts []domain.QueuedPost) []postView {
	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		views = append(views, toPostView(p))
	}
	return views
}
