package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/internal/infrastructure/parking"
	"github.com/fastygo/knowledge/internal/messaging"
	"github.com/fastygo/knowledge/internal/metrics"
)

// ErrBrokerUnavailable is returned by Replay while the broker is unreachable.
var ErrBrokerUnavailable = errors.New("broker unavailable, replay postponed")

// DeadLetterConfig controls retention and replay batching.
type DeadLetterConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
	ReplayBatch   int
}

// ReplayResult summarizes one replay run.
type ReplayResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// DeadLetterProcessor parks dead-lettered messages, replays them on demand
// and purges those older than the retention.
type DeadLetterProcessor struct {
	store    *parking.Store
	broker   messaging.Broker
	topology *messaging.Topology
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      DeadLetterConfig
	now      func() time.Time
}

func NewDeadLetterProcessor(
	store *parking.Store,
	broker messaging.Broker,
	topology *messaging.Topology,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg DeadLetterConfig,
) (*DeadLetterProcessor, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &DeadLetterProcessor{
		store:    store,
		broker:   broker,
		topology: topology,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(cron.WithSeconds()),
		now:      time.Now,
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.SweepInterval.Seconds()))
	if _, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.Sweep(); err != nil {
			p.logger.Error("dead-letter sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule dead-letter sweep %q: %w", schedule, err)
	}
	return p, nil
}

// Start subscribes the dead-letter queue and launches the janitor.
func (p *DeadLetterProcessor) Start(ctx context.Context) error {
	if p == nil || p.store == nil {
		return nil
	}
	if err := p.broker.Subscribe(ctx, p.topology.DeadLetter(), p.park); err != nil {
		return fmt.Errorf("subscribe dead-letter queue: %w", err)
	}
	p.cron.Start()
	p.logger.Info("dead-letter processor started",
		zap.Duration("retention", p.cfg.Retention),
		zap.Duration("sweep_interval", p.cfg.SweepInterval))
	return nil
}

// Stop stops the janitor.
func (p *DeadLetterProcessor) Stop(ctx context.Context) {
	if p == nil || p.cron == nil {
		return
	}
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	p.logger.Info("dead-letter processor stopped")
}

func (p *DeadLetterProcessor) park(d messaging.Delivery) {
	original := messaging.OriginalKey(d.RoutingKey())
	var envelope struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(d.Body(), &envelope); err != nil {
		p.logger.Debug("dead letter body is not an event envelope",
			zap.String("dead_letter_key", d.RoutingKey()),
			zap.Int("body_len", len(d.Body())),
			zap.Error(err))
	}

	item, err := p.store.Park(parking.Item{
		MessageID:     envelope.MessageID,
		RoutingKey:    original,
		DeadLetterKey: d.RoutingKey(),
		Body:          append([]byte(nil), d.Body()...),
		ParkedAt:      p.now().UTC(),
	})
	if err != nil {
		p.logger.Error("failed to park dead letter",
			zap.String("routing_key", original),
			zap.String("message_id", envelope.MessageID),
			zap.Error(err))
		if nakErr := d.Nak(); nakErr != nil {
			p.logger.Error("nak failed", zap.Error(nakErr))
		}
		return
	}
	p.metrics.DeadLettered(original)
	p.logger.Warn("message dead-lettered",
		zap.String("routing_key", original),
		zap.String("message_id", envelope.MessageID),
		zap.String("item_id", item.ID))
	if err := d.Ack(); err != nil {
		p.logger.Error("ack failed", zap.Error(err))
	}
}

// List returns parked items, oldest first.
func (p *DeadLetterProcessor) List(limit int) ([]parking.Item, error) {
	if p == nil || p.store == nil {
		return nil, nil
	}
	if limit <= 0 || limit > p.cfg.ReplayBatch {
		limit = p.cfg.ReplayBatch
	}
	return p.store.List(limit)
}

// Replay republishes up to limit parked items to their original exchange
// and routing key. Items are removed once the broker accepts them; failures
// stay parked.
func (p *DeadLetterProcessor) Replay(ctx context.Context, limit int) (ReplayResult, error) {
	var result ReplayResult
	if p == nil || p.store == nil {
		return result, nil
	}
	if err := p.broker.Ping(ctx); err != nil {
		p.logger.Debug("skipping replay (broker offline)", zap.Error(err))
		return result, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	items, err := p.List(limit)
	if err != nil {
		return result, err
	}

	for _, item := range items {
		if err := p.replayItem(ctx, item); err != nil {
			result.Failed++
			p.logger.Error("failed to replay dead letter",
				zap.String("item_id", item.ID),
				zap.String("routing_key", item.RoutingKey),
				zap.Error(err))
			continue
		}
		result.Replayed++
		if err := p.store.Remove(item); err != nil {
			p.logger.Warn("failed to remove replayed dead letter", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	p.logger.Info("dead-letter replay finished",
		zap.Int("replayed", result.Replayed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (p *DeadLetterProcessor) replayItem(ctx context.Context, item parking.Item) error {
	queue, ok := p.topology.Lookup(item.RoutingKey)
	if !ok {
		return fmt.Errorf("%w: %s", messaging.ErrUnroutable, item.RoutingKey)
	}
	// a fresh id keeps broker-side duplicate detection from swallowing the replay
	id := fmt.Sprintf("%s-replay-%d", item.ID, p.now().UnixNano())
	return p.broker.Publish(ctx, messaging.Message{
		ID:         id,
		Exchange:   queue.Exchange,
		RoutingKey: item.RoutingKey,
		Body:       item.Body,
	})
}

// Sweep purges items older than the retention.
func (p *DeadLetterProcessor) Sweep() (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	purged, err := p.store.PurgeBefore(p.now().Add(-p.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		p.logger.Info("dead letters purged", zap.Int("count", purged))
	}
	return purged, nil
}

// Size returns the number of parked items.
func (p *DeadLetterProcessor) Size() int {
	if p == nil || p.store == nil {
		return 0
	}
	size, err := p.store.Size()
	if err != nil {
		return 0
	}
	return size
}
