package repository

import (
	"context"

	"github.com/fastygo/knowledge/domain"
)

// ArticleRepository reads and updates articles and their comments in the
// externally owned content schema.
type ArticleRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Article, error)
	Update(ctx context.Context, article *domain.Article) error
	Publish(ctx context.Context, id int64) (*domain.Article, error)
	ListHot(ctx context.Context, limit int) ([]domain.Article, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Article, error)

	CreateComment(ctx context.Context, comment *domain.Comment) error
	ApproveComment(ctx context.Context, id int64) (*domain.Comment, error)
}
