package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"truckpress/internal/domain"
	"truckpress/internal/infrastructure/database"
	"truckpress/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ArticleRepository persists admitted articles in Postgres, keyed by URL.
type ArticleRepository struct {
	db *database.DB
}

var _ ports.ArticleRepository = (*ArticleRepository)(nil)

// NewArticleRepository wires the shared database handle.
func NewArticleRepository(db *database.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

const articleColumns = "url, title, summary, body, source, published_at, image_url, tags, engagement_score, is_duplicate, is_processed, created_at"

// Upsert inserts the article; on a URL conflict it returns the existing row
// untouched, so re-running ingestion never creates a duplicate.
func (r *ArticleRepository) Upsert(ctx context.Context, article domain.Article) (domain.Article, error) {
	query := `INSERT INTO articles (` + articleColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
              ON CONFLICT (url) DO NOTHING
              RETURNING ` + articleColumns

	row := r.db.QueryRowContext(ctx, query,
		article.URL, article.Title, article.Summary, article.Body, article.Source,
		article.PublishedAt, article.ImageURL, pq.StringArray(article.Tags),
		article.EngagementScore, article.IsDuplicate, article.IsProcessed,
	)

	inserted, err := scanArticle(row)
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("upsert article: %w", err)
	}

	// Conflict: fetch the existing record instead of erroring.
	return r.Get(ctx, article.URL)
}

// Get fetches one article by its URL.
func (r *ArticleRepository) Get(ctx context.Context, url string) (domain.Article, error) {
	query, args, err := psql.Select(articleColumns).
		From("articles").
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build query: %w", err)
	}

	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("find article: %w", err)
	}
	return article, nil
}

// Recent returns non-duplicate articles created since the given time, used
// as the duplicate detector's comparison window.
func (r *ArticleRepository) Recent(ctx context.Context, since time.Time) ([]domain.Article, error) {
	query, args, err := psql.Select(articleColumns).
		From("articles").
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.Eq{"is_duplicate": false}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

// MarkProcessed flags the article so later runs skip it.
func (r *ArticleRepository) MarkProcessed(ctx context.Context, url string) error {
	query, args, err := psql.Update("articles").
		Set("is_processed", true).
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// CountProcessed reports how many articles completed the pipeline.
func (r *ArticleRepository) CountProcessed(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("articles").
		Where(sq.Eq{"is_processed": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count processed: %w", err)
	}
	return count, nil
}

// PurgeProcessedBefore removes processed articles older than the cutoff,
// keeping rows still referenced by queued posts.
func (r *ArticleRepository) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM articles
              WHERE is_processed = TRUE
                AND created_at < $1
                AND url NOT IN (SELECT article_url FROM queued_posts)`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge articles: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var a domain.Article
	var tags pq.StringArray
	err := row.Scan(&a.URL, &a.Title, &a.Summary, &a.Body, &a.Source,
		&a.PublishedAt, &a.ImageURL, &tags, &a.EngagementScore,
		&a.IsDuplicate, &a.IsProcessed, &a.CreatedAt)
	if err != nil {
		return domain.Article{}, err
	}
	a.Tags = tags
	return a, nil
}
