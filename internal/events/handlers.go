package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
)

// notificationClaimTTL bounds how long a delivered notification is
// remembered for duplicate suppression.
const notificationClaimTTL = 24 * time.Hour

// Invalidator evicts cache keys.
type Invalidator interface {
	Evict(ctx context.Context, keys ...string) error
}

// Claimer provides set-if-absent markers.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notifier delivers a message to a user.
type Notifier interface {
	Notify(ctx context.Context, recipientID, subjectID int64, body string) error
}

// LogNotifier writes notifications to the log. It stands in for a mail
// gateway.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, recipientID, subjectID int64, body string) error {
	n.logger.Info("notification sent",
		zap.Int64("recipient_id", recipientID),
		zap.Int64("subject_id", subjectID),
		zap.Int("body_len", len(body)))
	return nil
}

// ArticleInvalidation evicts the article and the listings it appears in.
func ArticleInvalidation(cache Invalidator) HandlerFunc {
	return func(ctx context.Context, event *domain.DomainEvent) error {
		return cache.Evict(ctx,
			repository.ArticleKey(event.EntityID),
			repository.HotArticlesKey,
			repository.LatestArticlesKey)
	}
}

// CommentInvalidation evicts the parent article and its comment list.
func CommentInvalidation(cache Invalidator) HandlerFunc {
	return func(ctx context.Context, event *domain.DomainEvent) error {
		if event.ParentID == 0 {
			return fmt.Errorf("comment event %s has no article id", event.MessageID)
		}
		return cache.Evict(ctx,
			repository.ArticleKey(event.ParentID),
			repository.CommentsKey(event.ParentID))
	}
}

// StatsInvalidation evicts the dashboard aggregate.
func StatsInvalidation(cache Invalidator) HandlerFunc {
	return func(ctx context.Context, _ *domain.DomainEvent) error {
		return cache.Evict(ctx, repository.StatsDashboardKey)
	}
}

// EmailDelivery notifies at most once per message id. The claim is released
// when the notifier fails so a redelivery can try again.
func EmailDelivery(claims Claimer, notifier Notifier) HandlerFunc {
	return func(ctx context.Context, event *domain.DomainEvent) error {
		key := repository.NotifiedKey(event.MessageID)
		won, err := claims.Claim(ctx, key, notificationClaimTTL)
		if err != nil {
			return fmt.Errorf("claim %s: %w", key, err)
		}
		if !won {
			return nil
		}
		if err := notifier.Notify(ctx, event.EntityID, event.ParentID, event.Payload); err != nil {
			if relErr := claims.Release(ctx, key); relErr != nil {
				return fmt.Errorf("notify: %w (release claim: %v)", err, relErr)
			}
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	}
}

// RegisterDefaults binds the platform handlers to every topology key.
func RegisterDefaults(r *Registry, cache repository.CacheStore, notifier Notifier) {
	articles := ArticleInvalidation(cache)
	r.Register(domain.DomainArticle, domain.ActionPublish, articles)
	r.Register(domain.DomainArticle, domain.ActionUpdate, articles)

	comments := CommentInvalidation(cache)
	r.Register(domain.DomainComment, domain.ActionPublish, comments)
	r.Register(domain.DomainComment, domain.ActionApprove, comments)

	stats := StatsInvalidation(cache)
	r.Register(domain.DomainStats, domain.ActionVisit, stats)
	r.Register(domain.DomainStats, domain.ActionSearch, stats)

	r.Register(domain.DomainNotification, domain.ActionEmail, EmailDelivery(cache, notifier))
}
