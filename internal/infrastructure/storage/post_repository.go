package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"truckpress/internal/domain"
	"truckpress/internal/infrastructure/database"
	"truckpress/internal/ports"
)

// PostRepository owns queued_posts. Every status transition is guarded by a
// WHERE clause on the expected source status so the lifecycle can only move
// forward.
type PostRepository struct {
	db *database.DB
}

var _ ports.PostRepository = (*PostRepository)(nil)

// NewPostRepository wires the shared database handle.
func NewPostRepository(db *database.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = "id, article_url, text, scheduled_time, status, external_post_id, engagement_metrics, error_message, posted_at, created_at, updated_at"

// Insert stores a freshly composed post.
func (r *PostRepository) Insert(ctx context.Context, post domain.QueuedPost) error {
	query, args, err := psql.Insert("queued_posts").
		Columns("id", "article_url", "text", "scheduled_time", "status").
		Values(post.ID, post.ArticleURL, post.Text, post.ScheduledTime, post.Status).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// Get fetches one post by ID.
func (r *PostRepository) Get(ctx context.Context, id string) (domain.QueuedPost, error) {
	query, args, err := psql.Select(postColumns).
		From("queued_posts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.QueuedPost{}, fmt.Errorf("build query: %w", err)
	}

	post, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueuedPost{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QueuedPost{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// List returns posts, optionally filtered by status, newest first.
func (r *PostRepository) List(ctx context.Context, status domain.PostStatus, limit int) ([]domain.QueuedPost, error) {
	builder := psql.Select(postColumns).
		From("queued_posts").
		OrderBy("created_at DESC")
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.queryPosts(ctx, query, args...)
}

// Due returns pending posts whose scheduled time has passed, oldest first.
func (r *PostRepository) Due(ctx context.Context, now time.Time) ([]domain.QueuedPost, error) {
	query, args, err := psql.Select(postColumns).
		From("queued_posts").
		Where(sq.Eq{"status": domain.StatusPending}).
		Where(sq.LtOrEq{"scheduled_time": now}).
		OrderBy("scheduled_time ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.queryPosts(ctx, query, args...)
}

// InStatus returns every post in the given status.
func (r *PostRepository) InStatus(ctx context.Context, status domain.PostStatus) ([]domain.QueuedPost, error) {
	query, args, err := psql.Select(postColumns).
		From("queued_posts").
		Where(sq.Eq{"status": status}).
		OrderBy("scheduled_time ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.queryPosts(ctx, query, args...)
}

// CountByStatus aggregates queue depth per status for the status surface.
func (r *PostRepository) CountByStatus(ctx context.Context) (map[domain.PostStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queued_posts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PostStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.PostStatus(status)] = count
	}
	return counts, rows.Err()
}

// MarkPosting claims a pending post. Returns false when another transition
// got there first.
func (r *PostRepository) MarkPosting(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queued_posts SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		domain.StatusPosting, id, domain.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark posting: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark posting: %w", err)
	}
	return affected == 1, nil
}

// MarkPosted records a successful delivery.
func (r *PostRepository) MarkPosted(ctx context.Context, id, externalID string, postedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE queued_posts
         SET status = $1, external_post_id = $2, posted_at = $3, error_message = '', updated_at = NOW()
         WHERE id = $4 AND status = $5`,
		domain.StatusPosted, externalID, postedAt, id, domain.StatusPosting)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	return nil
}

// MarkFailed records a terminal delivery failure with its message.
func (r *PostRepository) MarkFailed(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE queued_posts
         SET status = $1, error_message = $2, updated_at = NOW()
         WHERE id = $3 AND status = $4`,
		domain.StatusFailed, message, id, domain.StatusPosting)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// RevertToPending is the crash-recovery transition for posts stuck in
// posting; it is the only backward move in the lifecycle.
func (r *PostRepository) RevertToPending(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE queued_posts
         SET status = $1, updated_at = NOW()
         WHERE id = $2 AND status = $3`,
		domain.StatusPending, id, domain.StatusPosting)
	if err != nil {
		return fmt.Errorf("revert to pending: %w", err)
	}
	return nil
}

// SaveMetrics refreshes the engagement snapshot of a posted post.
func (r *PostRepository) SaveMetrics(ctx context.Context, id string, metrics domain.EngagementMetrics) error {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE queued_posts SET engagement_metrics = $1, updated_at = NOW() WHERE id = $2`,
		payload, id)
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

// PurgeBefore removes completed and failed posts older than the cutoff.
func (r *PostRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM queued_posts WHERE status IN ($1, $2) AND created_at < $3`,
		domain.StatusPosted, domain.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge posts: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]domain.QueuedPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.QueuedPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

func scanPost(row rowScanner) (domain.QueuedPost, error) {
	var p domain.QueuedPost
	var metrics []byte
	var postedAt sql.NullTime
	err := row.Scan(&p.ID, &p.ArticleURL, &p.Text, &p.ScheduledTime, &p.Status,
		&p.ExternalPostID, &metrics, &p.ErrorMessage, &postedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.QueuedPost{}, err
	}
	if postedAt.Valid {
		t := postedAt.Time
		p.PostedAt = &t
	}
	if len(metrics) > 0 {
		var m domain.EngagementMetrics
		if err := json.Unmarshal(metrics, &m); err == nil {
			p.Metrics = &m
		}
	}
	return p, nil
}
