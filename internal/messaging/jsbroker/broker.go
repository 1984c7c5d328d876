// Package jsbroker maps the queue topology onto NATS JetStream: one stream
// per exchange, one durable pull consumer per queue, and a DLX stream fed
// from max-delivery advisories.
package jsbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/internal/messaging"
)

const (
	maxDeliveriesAdvisory = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.>"
	deadLetterRetention   = 7 * 24 * time.Hour
	ackWait               = 30 * time.Second
)

// Config tunes delivery.
type Config struct {
	// MaxDeliver is a backstop for handlers that never settle a message
	// (crash, stuck goroutine). The consumer terminates messages itself
	// once its retry budget is spent, well below this.
	MaxDeliver int
	FetchBatch int
	FetchWait  time.Duration
}

type Broker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	advisory *nats.Subscription
}

func New(nc *nats.Conn, cfg Config, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 10
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	return &Broker{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

// StreamName maps "article.exchange" to "ARTICLE" and "dlx.exchange" to "DLX".
func StreamName(exchange string) string {
	return strings.ToUpper(strings.TrimSuffix(exchange, ".exchange"))
}

// subject turns an AMQP-style binding into a NATS subject filter.
func subject(pattern string) string {
	if prefix, ok := strings.CutSuffix(pattern, "#"); ok {
		return prefix + ">"
	}
	return pattern
}

// DurableName is the consumer name for a queue; NATS forbids dots.
func DurableName(queue string) string {
	return strings.ReplaceAll(queue, ".", "-")
}

func (b *Broker) Declare(ctx context.Context, topology *messaging.Topology) error {
	grouped := make(map[string][]messaging.QueueSpec)
	for _, q := range topology.Queues() {
		grouped[q.Exchange] = append(grouped[q.Exchange], q)
	}

	for exchange, queues := range grouped {
		var (
			subjects []string
			maxAge   time.Duration
		)
		for _, q := range queues {
			subjects = append(subjects, subject(q.RoutingKey))
			if q.TTL > maxAge {
				maxAge = q.TTL
			}
		}
		_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       StreamName(exchange),
			Subjects:   subjects,
			Retention:  jetstream.WorkQueuePolicy,
			MaxAge:     maxAge,
			Storage:    jetstream.FileStorage,
			Duplicates: maxAge,
		})
		if err != nil {
			return fmt.Errorf("declare stream %s: %w", exchange, err)
		}
	}

	dl := topology.DeadLetter()
	if _, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName(dl.Exchange),
		Subjects:  []string{subject(dl.RoutingKey)},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    deadLetterRetention,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		return fmt.Errorf("declare dead-letter stream: %w", err)
	}

	return b.watchMaxDeliveries()
}

// watchMaxDeliveries republishes messages that exhausted MaxDeliver to the
// DLX stream and removes them from their source stream.
func (b *Broker) watchMaxDeliveries() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.advisory != nil {
		return nil
	}
	sub, err := b.nc.Subscribe(maxDeliveriesAdvisory, func(m *nats.Msg) {
		var adv struct {
			Stream   string `json:"stream"`
			Consumer string `json:"consumer"`
			Sequence uint64 `json:"stream_seq"`
		}
		if err := json.Unmarshal(m.Data, &adv); err != nil {
			b.logger.Warn("unreadable max-deliveries advisory", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.deadLetter(ctx, adv.Stream, adv.Sequence); err != nil {
			b.logger.Error("dead-letter from advisory failed",
				zap.String("stream", adv.Stream),
				zap.String("consumer", adv.Consumer),
				zap.Uint64("seq", adv.Sequence),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe advisories: %w", err)
	}
	b.advisory = sub
	return nil
}

func (b *Broker) deadLetter(ctx context.Context, streamName string, seq uint64) error {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		return err
	}
	raw, err := stream.GetMsg(ctx, seq)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(messaging.DeadLetterKey(raw.Subject))
	msg.Data = raw.Data
	msg.Header = raw.Header
	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return err
	}
	return stream.DeleteMsg(ctx, seq)
}

func (b *Broker) Publish(ctx context.Context, msg messaging.Message) error {
	opts := []jetstream.PublishOpt{jetstream.WithExpectStream(StreamName(msg.Exchange))}
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}
	_, err := b.js.Publish(ctx, msg.RoutingKey, msg.Body, opts...)
	if errors.Is(err, jetstream.ErrNoStreamResponse) {
		return fmt.Errorf("%w: %s", messaging.ErrUnroutable, msg.RoutingKey)
	}
	return err
}

func (b *Broker) Subscribe(ctx context.Context, spec messaging.QueueSpec, h messaging.Handler) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, StreamName(spec.Exchange), jetstream.ConsumerConfig{
		Durable:       DurableName(spec.Name),
		FilterSubject: subject(spec.RoutingKey),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       ackWait,
		MaxDeliver:    b.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", spec.Name, err)
	}
	go b.fetchLoop(ctx, spec, consumer, h)
	return nil
}

func (b *Broker) fetchLoop(ctx context.Context, spec messaging.QueueSpec, consumer jetstream.Consumer, h messaging.Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := consumer.Fetch(b.cfg.FetchBatch, jetstream.FetchMaxWait(b.cfg.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("fetch failed", zap.String("queue", spec.Name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range batch.Messages() {
			h(&delivery{msg: msg})
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			b.logger.Debug("fetch batch ended with error", zap.String("queue", spec.Name), zap.Error(err))
		}
	}
}

func (b *Broker) Ping(context.Context) error {
	if b.nc == nil {
		return messaging.ErrBrokerClosed
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected (%s)", b.nc.Status())
	}
	return nil
}

// Close stops the advisory watcher and drains the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.advisory != nil {
		_ = b.advisory.Unsubscribe()
		b.advisory = nil
	}
	b.mu.Unlock()
	return b.nc.Drain()
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Body() []byte       { return d.msg.Data() }
func (d *delivery) RoutingKey() string { return d.msg.Subject() }

func (d *delivery) Attempt() int {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

func (d *delivery) Ack() error  { return d.msg.Ack() }
func (d *delivery) Nak() error  { return d.msg.Nak() }
func (d *delivery) Term() error { return d.msg.Term() }
