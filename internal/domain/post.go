package domain

import "time"

// PostStatus enumerates the delivery lifecycle of a queued post.
type PostStatus string

const (
	StatusPending PostStatus = "pending"
	StatusPosting PostStatus = "posting"
	StatusPosted  PostStatus = "posted"
	StatusFailed  PostStatus = "failed"
)

// CanTransition reports whether moving to next is a legal forward step.
// Posts never move backward except through explicit crash recovery.
func (s PostStatus) CanTransition(next PostStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPosting
	case StatusPosting:
		return next == StatusPosted || next == StatusFailed
	default:
		return false
	}
}

// EngagementMetrics is the social-network feedback snapshot for a post.
type EngagementMetrics struct {
	Likes     int       `json:"likes"`
	Comments  int       `json:"comments"`
	Shares    int       `json:"shares"`
	Reactions int       `json:"reactions"`
	FetchedAt time.Time `json:"fetched_at"`
}

// QueuedPost is a composed, schedulable unit of publishable content tied to
// exactly one Article.
type QueuedPost struct {
	ID             string
	ArticleURL     string
	Text           string
	ScheduledTime  time.Time
	Status         PostStatus
	ExternalPostID string
	Metrics        *EngagementMetrics
	ErrorMessage   string
	PostedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ComposedPost is the composer's output before it becomes a QueuedPost.
type ComposedPost struct {
	Text         string
	Hashtags     []string
	CallToAction string
	ImageURL     string
	ArticleURL   string
}
