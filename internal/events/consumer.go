package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/messaging"
	"github.com/fastygo/knowledge/internal/metrics"
	"github.com/fastygo/knowledge/internal/workerpool"
)

// Consume outcomes recorded in metrics.
const (
	outcomeAck     = "ack"
	outcomeRetry   = "retry"
	outcomeDropped = "dropped"
	outcomePoison  = "poison"
	outcomeRefused = "refused"
)

const defaultHandlerTimeout = 10 * time.Second

// Consumer subscribes every topology queue and runs its handler on the
// worker pool of the queue's domain.
type Consumer struct {
	broker         messaging.Broker
	topology       *messaging.Topology
	registry       *Registry
	pools          *workerpool.Pools
	metrics        *metrics.Metrics
	logger         *zap.Logger
	handlerTimeout time.Duration
}

func NewConsumer(
	broker messaging.Broker,
	topology *messaging.Topology,
	registry *Registry,
	pools *workerpool.Pools,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		broker:         broker,
		topology:       topology,
		registry:       registry,
		pools:          pools,
		metrics:        m,
		logger:         logger,
		handlerTimeout: defaultHandlerTimeout,
	}
}

// Start subscribes all queues. Every queue needs a registered handler and a
// pool for its domain. Subscriptions end when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	for _, spec := range c.topology.Queues() {
		handler, ok := c.registry.Lookup(spec.RoutingKey)
		if !ok {
			return fmt.Errorf("no handler registered for %s", spec.RoutingKey)
		}
		pool, ok := c.pools.For(spec.Domain)
		if !ok {
			return fmt.Errorf("no worker pool for domain %s", spec.Domain)
		}
		spec := spec
		if err := c.broker.Subscribe(ctx, spec, func(d messaging.Delivery) {
			c.dispatch(pool, spec, handler, d)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", spec.Name, err)
		}
		c.logger.Info("consumer subscribed",
			zap.String("queue", spec.Name),
			zap.String("routing_key", spec.RoutingKey),
			zap.String("pool", pool.Name()))
	}
	return nil
}

func (c *Consumer) dispatch(pool *workerpool.Pool, spec messaging.QueueSpec, handler HandlerFunc, d messaging.Delivery) {
	err := pool.Submit(func(ctx context.Context) {
		c.process(ctx, spec, handler, d)
	})
	if err != nil {
		c.metrics.Consumed(spec.RoutingKey, outcomeRefused)
		c.logger.Warn("delivery refused by worker pool, requeueing",
			zap.String("queue", spec.Name),
			zap.Error(err))
		if nakErr := d.Nak(); nakErr != nil {
			c.logger.Error("nak failed", zap.String("queue", spec.Name), zap.Error(nakErr))
		}
	}
}

// process settles one delivery. The retry count carried by the event is
// reconciled with the broker's delivery count, so redeliveries advance it
// even though the body is never rewritten.
func (c *Consumer) process(ctx context.Context, spec messaging.QueueSpec, handler HandlerFunc, d messaging.Delivery) {
	event, err := domain.DecodeEvent(d.Body())
	if err != nil {
		c.metrics.Consumed(spec.RoutingKey, outcomePoison)
		c.logger.Error("undecodable event dropped",
			zap.String("routing_key", d.RoutingKey()),
			zap.Error(err))
		c.settle(d.Term, spec)
		return
	}
	if event.Domain == "" {
		event.Domain = spec.Domain
	}
	if event.Action == "" {
		event.Action = spec.Action
	}
	if prior := d.Attempt() - 1; prior > event.RetryCount {
		event.RetryCount = min(prior, event.MaxRetryCount)
	}

	log := c.logger.With(
		zap.String("message_id", event.MessageID),
		zap.String("routing_key", spec.RoutingKey),
		zap.Int64("entity_id", event.EntityID),
		zap.Int("retry_count", event.RetryCount))

	if event.IsMaxRetryReached() {
		c.metrics.Consumed(spec.RoutingKey, outcomeDropped)
		log.Error("event arrived with retries exhausted, dropping",
			zap.Int("attempt", d.Attempt()))
		c.settle(d.Term, spec)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	started := time.Now()
	err = handler(hctx, event)
	cancel()
	c.metrics.ObserveHandler(spec.RoutingKey, time.Since(started).Seconds())

	if err == nil {
		c.metrics.Consumed(spec.RoutingKey, outcomeAck)
		log.Debug("event processed")
		c.settle(d.Ack, spec)
		return
	}

	event.IncrementRetry()
	cerr := &domain.ConsumeError{
		MessageID:  event.MessageID,
		RoutingKey: spec.RoutingKey,
		RetryCount: event.RetryCount,
		Terminal:   event.IsMaxRetryReached(),
		Err:        err,
	}
	if !cerr.Terminal {
		c.metrics.Consumed(spec.RoutingKey, outcomeRetry)
		log.Warn("event handler failed, will retry",
			zap.Int("max_retry_count", event.MaxRetryCount),
			zap.Error(cerr))
		c.settle(d.Nak, spec)
		return
	}
	c.metrics.Consumed(spec.RoutingKey, outcomeDropped)
	log.Error("event handler failed, retries exhausted, dropping", zap.Error(cerr))
	c.settle(d.Term, spec)
}

func (c *Consumer) settle(fn func() error, spec messaging.QueueSpec) {
	if err := fn(); err != nil {
		c.logger.Error("settling delivery failed", zap.String("queue", spec.Name), zap.Error(err))
	}
}
