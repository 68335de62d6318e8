package ports

import (
	"context"
	"time"

	"truckpress/internal/domain"
)

// FeedSource pulls fresh items from every enabled upstream source. A failing
// source contributes an empty slice; Fetch itself fails only on misuse.
type FeedSource interface {
	Fetch(ctx context.Context) ([]domain.RawItem, error)
}

// ArticleRepository persists admitted articles keyed by URL.
type ArticleRepository interface {
	// Upsert inserts the article or, when the URL already exists, returns
	// the stored row untouched.
	Upsert(ctx context.Context, article domain.Article) (domain.Article, error)
	Get(ctx context.Context, url string) (domain.Article, error)
	Recent(ctx context.Context, since time.Time) ([]domain.Article, error)
	MarkProcessed(ctx context.Context, url string) error
	CountProcessed(ctx context.Context) (int, error)
	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostRepository owns QueuedPost rows. Status transitions are guarded: a
// transition method silently fails (returns false) when the row is no longer
// in the expected source state.
type PostRepository interface {
	Insert(ctx context.Context, post domain.QueuedPost) error
	Get(ctx context.Context, id string) (domain.QueuedPost, error)
	List(ctx context.Context, status domain.PostStatus, limit int) ([]domain.QueuedPost, error)
	Due(ctx context.Context, now time.Time) ([]domain.QueuedPost, error)
	InStatus(ctx context.Context, status domain.PostStatus) ([]domain.QueuedPost, error)
	CountByStatus(ctx context.Context) (map[domain.PostStatus]int, error)

	MarkPosting(ctx context.Context, id string) (bool, error)
	MarkPosted(ctx context.Context, id, externalID string, postedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string) error
	RevertToPending(ctx context.Context, id string) error

	SaveMetrics(ctx context.Context, id string, metrics domain.EngagementMetrics) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CreatePostRequest is the payload handed to the social network.
type CreatePostRequest struct {
	Text       string
	ImageURL   string
	ArticleURL string
}

// PostReceipt acknowledges a delivered post.
type PostReceipt struct {
	ExternalPostID string
	Permalink      string
}

// DeliveryClient is the narrow contract to the social-network API. Failures
// come back as *domain.DeliveryError classified retryable or terminal.
type DeliveryClient interface {
	CreatePost(ctx context.Context, req CreatePostRequest) (PostReceipt, error)
	GetMetrics(ctx context.Context, externalPostID string) (domain.EngagementMetrics, error)
	RefreshToken(ctx context.Context) error
}

// Scheduler drives the orchestrator's periodic ticks.
type Scheduler interface {
	Every(name string, interval time.Duration, job func(context.Context))
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
