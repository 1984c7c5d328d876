package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
)

type articleRepository struct {
	pool *pgxpool.Pool
}

// NewArticleRepository returns a Postgres-backed ArticleRepository over the
// article and comment tables.
func NewArticleRepository(pool *pgxpool.Pool) repository.ArticleRepository {
	return &articleRepository{pool: pool}
}

const articleColumns = `id, author_id, title, COALESCE(summary, ''), content, status, views, publish_time, created_at, updated_at`

func (r *articleRepository) GetByID(ctx context.Context, id int64) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM article WHERE id = $1`
	return scanArticle(r.pool.QueryRow(ctx, query, id))
}

func (r *articleRepository) Update(ctx context.Context, article *domain.Article) error {
	if article == nil {
		return domain.ErrInvalidPayload
	}

	const query = `
	UPDATE article
	SET title = $2,
		summary = $3,
		content = $4,
		updated_at = NOW()
	WHERE id = $1
	RETURNING updated_at
	`
	if err := r.pool.QueryRow(ctx, query,
		article.ID,
		article.Title,
		article.Summary,
		article.Content,
	).Scan(&article.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrArticleNotFound
		}
		return err
	}
	return nil
}

func (r *articleRepository) Publish(ctx context.Context, id int64) (*domain.Article, error) {
	query := `
	UPDATE article
	SET status = $2,
		publish_time = COALESCE(publish_time, NOW()),
		updated_at = NOW()
	WHERE id = $1
	RETURNING ` + articleColumns
	return scanArticle(r.pool.QueryRow(ctx, query, id, articlePublished))
}

func (r *articleRepository) ListHot(ctx context.Context, limit int) ([]domain.Article, error) {
	query := `SELECT ` + articleColumns + `
	FROM article
	WHERE status = $1
	ORDER BY views DESC, publish_time DESC
	LIMIT $2`
	return r.list(ctx, query, articlePublished, clampLimit(limit))
}

func (r *articleRepository) Search(ctx context.Context, q string, limit int) ([]domain.Article, error) {
	query := `SELECT ` + articleColumns + `
	FROM article
	WHERE status = $1
	  AND (title ILIKE '%' || $2 || '%' OR summary ILIKE '%' || $2 || '%')
	ORDER BY publish_time DESC
	LIMIT $3`
	return r.list(ctx, query, articlePublished, q, clampLimit(limit))
}

func (r *articleRepository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	if comment == nil || comment.Content == "" {
		return domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO comment (article_id, user_id, content, status, created_at, updated_at)
	SELECT $1, $2, $3, $4, NOW(), NOW()
	WHERE EXISTS (SELECT 1 FROM article WHERE id = $1)
	RETURNING id, status, created_at
	`
	var status int
	if err := r.pool.QueryRow(ctx, query,
		comment.ArticleID,
		comment.UserID,
		comment.Content,
		commentPending,
	).Scan(&comment.ID, &status, &comment.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrArticleNotFound
		}
		return err
	}
	comment.Status = commentStatus(status)
	return nil
}

func (r *articleRepository) ApproveComment(ctx context.Context, id int64) (*domain.Comment, error) {
	const query = `
	UPDATE comment
	SET status = $2,
		updated_at = NOW()
	WHERE id = $1
	RETURNING id, article_id, user_id, content, status, created_at
	`
	var (
		comment domain.Comment
		status  int
	)
	if err := r.pool.QueryRow(ctx, query, id, commentApproved).Scan(
		&comment.ID,
		&comment.ArticleID,
		&comment.UserID,
		&comment.Content,
		&status,
		&comment.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommentNotFound
		}
		return nil, err
	}
	comment.Status = commentStatus(status)
	return &comment, nil
}

func (r *articleRepository) list(ctx context.Context, query string, args ...any) ([]domain.Article, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	articles := make([]domain.Article, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

func scanArticle(row pgx.Row) (*domain.Article, error) {
	var (
		article domain.Article
		status  int
	)
	if err := row.Scan(
		&article.ID,
		&article.AuthorID,
		&article.Title,
		&article.Summary,
		&article.Content,
		&status,
		&article.ViewCount,
		&article.PublishedAt,
		&article.CreatedAt,
		&article.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrArticleNotFound
		}
		return nil, err
	}
	article.Status = articleStatus(status)
	return &article, nil
}
