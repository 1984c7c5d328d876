// Package events publishes domain events after writes and consumes them
// into cache invalidation and notification side effects.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/messaging"
	"github.com/fastygo/knowledge/internal/metrics"
)

// Publish results recorded in metrics.
const (
	resultPublished   = "published"
	resultUnroutable  = "unroutable"
	resultEncodeError = "encode_error"
	resultBreakerOpen = "breaker_open"
	resultFailed      = "failed"
)

type ProducerConfig struct {
	MaxRetry         int
	PublishTimeout   time.Duration
	BreakerFailures  int
	BreakerOpenDelay time.Duration
}

// Producer publishes events at most once. Failures are logged and counted,
// never returned: the write that triggered the event has already committed.
type Producer struct {
	broker   messaging.Broker
	topology *messaging.Topology
	breaker  *gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      ProducerConfig
	now      func() time.Time
}

type ProducerOption func(*Producer)

func WithProducerClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProducer(
	broker messaging.Broker,
	topology *messaging.Topology,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg ProducerConfig,
	opts ...ProducerOption,
) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = domain.DefaultMaxRetryCount
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenDelay <= 0 {
		cfg.BreakerOpenDelay = 30 * time.Second
	}

	p := &Producer{
		broker:   broker,
		topology: topology,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	failures := uint32(cfg.BreakerFailures)
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// EventOption adjusts an event before it is published.
type EventOption func(*domain.DomainEvent)

// WithParent sets the owning entity, e.g. the article of a comment.
func WithParent(id int64) EventOption {
	return func(e *domain.DomainEvent) { e.ParentID = id }
}

func WithMetadata(key, value string) EventOption {
	return func(e *domain.DomainEvent) {
		if value == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// Publish builds an event and sends it to the exchange of d. It returns the
// generated message id whether or not the broker accepted the message.
func (p *Producer) Publish(ctx context.Context, d domain.EventDomain, action string, entityID, actorID int64, payload string, opts ...EventOption) string {
	event := &domain.DomainEvent{
		MessageID:     uuid.NewString(),
		Domain:        d,
		Action:        action,
		EntityID:      entityID,
		OperationType: domain.OperationFor(action),
		ActorID:       actorID,
		Payload:       payload,
		CreatedAt:     p.now().UTC(),
		MaxRetryCount: p.cfg.MaxRetry,
	}
	for _, opt := range opts {
		opt(event)
	}

	routingKey := event.RoutingKey()
	log := p.logger.With(
		zap.String("message_id", event.MessageID),
		zap.String("routing_key", routingKey),
		zap.Int64("entity_id", entityID))

	queue, ok := p.topology.Lookup(routingKey)
	if !ok {
		p.metrics.Published(routingKey, resultUnroutable)
		log.Error("event not published", zap.Error(domain.ErrUnroutableEvent))
		return event.MessageID
	}

	body, err := event.Encode()
	if err != nil {
		p.metrics.Published(routingKey, resultEncodeError)
		log.Error("event not published", zap.Error(&domain.PublishError{MessageID: event.MessageID, RoutingKey: routingKey, Err: err}))
		return event.MessageID
	}

	msg := messaging.Message{ID: event.MessageID, Exchange: queue.Exchange, RoutingKey: routingKey, Body: body}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
		defer cancel()
		return nil, p.broker.Publish(pubCtx, msg)
	})
	switch {
	case err == nil:
		p.metrics.Published(routingKey, resultPublished)
		log.Debug("event published")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.metrics.Published(routingKey, resultBreakerOpen)
		log.Warn("event dropped, publisher circuit open")
	case errors.Is(err, messaging.ErrUnroutable):
		p.metrics.Published(routingKey, resultUnroutable)
		log.Error("event not published", zap.Error(&domain.PublishError{MessageID: event.MessageID, RoutingKey: routingKey, Err: err}))
	default:
		p.metrics.Published(routingKey, resultFailed)
		log.Error("event not published", zap.Error(&domain.PublishError{MessageID: event.MessageID, RoutingKey: routingKey, Err: err}))
	}
	return event.MessageID
}

func (p *Producer) ArticlePublished(ctx context.Context, articleID, actorID int64) string {
	return p.Publish(ctx, domain.DomainArticle, domain.ActionPublish, articleID, actorID, "")
}

func (p *Producer) ArticleUpdated(ctx context.Context, articleID, actorID int64) string {
	return p.Publish(ctx, domain.DomainArticle, domain.ActionUpdate, articleID, actorID, "")
}

func (p *Producer) CommentPublished(ctx context.Context, commentID, articleID, actorID int64, content string) string {
	return p.Publish(ctx, domain.DomainComment, domain.ActionPublish, commentID, actorID, content, WithParent(articleID))
}

func (p *Producer) CommentApproved(ctx context.Context, commentID, articleID, actorID int64) string {
	return p.Publish(ctx, domain.DomainComment, domain.ActionApprove, commentID, actorID, "", WithParent(articleID))
}

// EmailNotification asks the notification consumer to mail recipientID.
func (p *Producer) EmailNotification(ctx context.Context, recipientID, subjectID int64, body string) string {
	return p.Publish(ctx, domain.DomainNotification, domain.ActionEmail, recipientID, 0, body, WithParent(subjectID))
}

func (p *Producer) ArticleVisited(ctx context.Context, articleID, actorID int64, ip, userAgent string) string {
	return p.Publish(ctx, domain.DomainStats, domain.ActionVisit, articleID, actorID, "",
		WithMetadata(domain.MetaIPAddress, ip),
		WithMetadata(domain.MetaUserAgent, userAgent))
}

func (p *Producer) SearchPerformed(ctx context.Context, actorID int64, keyword, ip string) string {
	return p.Publish(ctx, domain.DomainStats, domain.ActionSearch, 0, actorID, keyword,
		WithMetadata(domain.MetaIPAddress, ip))
}

// BreakerState reports the publish circuit state for health output.
func (p *Producer) BreakerState() string {
	return p.breaker.State().String()
}
