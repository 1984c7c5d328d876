// Package content serves articles, comments and search through the cache,
// announcing every committed write as a domain event.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
	"github.com/fastygo/knowledge/usecase"
)

const (
	hotArticlesLimit = 10
	searchLimit      = 20
	maxCommentLen    = 2000
)

type UseCase struct {
	articles repository.ArticleRepository
	cache    repository.CacheStore
	events   usecase.EventPublisher
	logger   *zap.Logger
}

func New(articles repository.ArticleRepository, cache repository.CacheStore, events usecase.EventPublisher, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		articles: articles,
		cache:    cache,
		events:   events,
		logger:   logger,
	}
}

// Get returns an article. Drafts are visible only to principals that may
// edit them; everyone else sees not found.
func (uc *UseCase) Get(ctx context.Context, principal domain.Principal, id int64, client usecase.ClientInfo) (*domain.Article, error) {
	article, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !article.IsPublished() && !article.CanEdit(principal) {
		return nil, domain.ErrArticleNotFound
	}
	uc.events.ArticleVisited(ctx, article.ID, principal.UserID, client.IP, client.UserAgent)
	return article, nil
}

// Hot lists the most viewed published articles.
func (uc *UseCase) Hot(ctx context.Context) ([]domain.Article, error) {
	var cached []domain.Article
	if uc.readCache(ctx, repository.HotArticlesKey, &cached) {
		return cached, nil
	}
	articles, err := uc.articles.ListHot(ctx, hotArticlesLimit)
	if err != nil {
		return nil, err
	}
	uc.writeCache(ctx, repository.RegionHot, repository.HotArticlesKey, articles)
	return articles, nil
}

// ArticleChanges holds the editable fields of an article. Empty fields keep
// their current value.
type ArticleChanges struct {
	Title   string
	Summary string
	Content string
}

func (uc *UseCase) Update(ctx context.Context, principal domain.Principal, id int64, changes ArticleChanges) (*domain.Article, error) {
	article, err := uc.articles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !article.CanEdit(principal) {
		return nil, domain.ErrForbidden
	}
	if title := strings.TrimSpace(changes.Title); title != "" {
		article.Title = title
	}
	if summary := strings.TrimSpace(changes.Summary); summary != "" {
		article.Summary = summary
	}
	if changes.Content != "" {
		article.Content = changes.Content
	}
	if err := uc.articles.Update(ctx, article); err != nil {
		return nil, err
	}
	uc.events.ArticleUpdated(ctx, article.ID, principal.UserID)
	return article, nil
}

func (uc *UseCase) Publish(ctx context.Context, principal domain.Principal, id int64) (*domain.Article, error) {
	article, err := uc.articles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !article.CanEdit(principal) {
		return nil, domain.ErrForbidden
	}
	published, err := uc.articles.Publish(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.events.ArticlePublished(ctx, published.ID, principal.UserID)
	return published, nil
}

// Comment adds a pending comment to a published article and notifies the
// author unless they wrote it.
func (uc *UseCase) Comment(ctx context.Context, principal domain.Principal, articleID int64, body string) (*domain.Comment, error) {
	if !principal.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	body = strings.TrimSpace(body)
	if body == "" || len([]rune(body)) > maxCommentLen {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "comment must be 1-2000 characters", nil)
	}
	article, err := uc.load(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !article.IsPublished() {
		return nil, domain.ErrArticleNotFound
	}

	comment := &domain.Comment{
		ArticleID: article.ID,
		UserID:    principal.UserID,
		Content:   body,
		Status:    domain.CommentStatusPending,
	}
	if err := uc.articles.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	uc.events.CommentPublished(ctx, comment.ID, article.ID, principal.UserID, comment.Content)
	if article.AuthorID != 0 && article.AuthorID != principal.UserID {
		uc.events.EmailNotification(ctx, article.AuthorID, article.ID,
			fmt.Sprintf("%s commented on %q", principal.Username, article.Title))
	}
	return comment, nil
}

// Approve marks a comment approved. Callers are admins by route policy.
func (uc *UseCase) Approve(ctx context.Context, principal domain.Principal, commentID int64) (*domain.Comment, error) {
	if !principal.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	comment, err := uc.articles.ApproveComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	uc.events.CommentApproved(ctx, comment.ID, comment.ArticleID, principal.UserID)
	return comment, nil
}

// Search matches published articles by title or summary.
func (uc *UseCase) Search(ctx context.Context, principal domain.Principal, query string, client usecase.ClientInfo) ([]domain.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "search query is required", nil)
	}
	defer uc.events.SearchPerformed(ctx, principal.UserID, query, client.IP)

	key := repository.SearchKey(query)
	var cached []domain.Article
	if uc.readCache(ctx, key, &cached) {
		return cached, nil
	}
	articles, err := uc.articles.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	uc.writeCache(ctx, repository.RegionSearch, key, articles)
	return articles, nil
}

func (uc *UseCase) load(ctx context.Context, id int64) (*domain.Article, error) {
	key := repository.ArticleKey(id)
	var cached domain.Article
	if uc.readCache(ctx, key, &cached) {
		return &cached, nil
	}
	article, err := uc.articles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.writeCache(ctx, repository.RegionArticle, key, article)
	return article, nil
}

// readCache reports a hit. Cache failures degrade to a miss.
func (uc *UseCase) readCache(ctx context.Context, key string, dest any) bool {
	err := uc.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		uc.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (uc *UseCase) writeCache(ctx context.Context, region repository.CacheRegion, key string, value any) {
	if err := uc.cache.Set(ctx, region, key, value); err != nil {
		uc.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
