// Package memory is an in-process broker with per-queue TTL, dead-lettering
// and redelivery. It backs tests and single-node development runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/knowledge/internal/messaging"
)

// ErrQueueFull is returned when a queue buffer has no room left.
var ErrQueueFull = errors.New("memory broker: queue full")

type Option func(*Broker)

// WithClock replaces time.Now for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithBuffer sets the per-queue capacity.
func WithBuffer(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.buffer = size
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type envelope struct {
	id         string
	routingKey string
	body       []byte
	enqueuedAt time.Time
	attempt    int
}

type queue struct {
	spec messaging.QueueSpec
	ch   chan *envelope
}

type binding struct {
	exchange string
	pattern  string
	queue    *queue
}

type Broker struct {
	mu       sync.RWMutex
	queues   map[string]*queue
	bindings []binding
	closed   bool

	buffer int
	now    func() time.Time
	logger *zap.Logger
}

func New(opts ...Option) *Broker {
	b := &Broker{
		queues: make(map[string]*queue),
		buffer: 1024,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Declare(_ context.Context, topology *messaging.Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return messaging.ErrBrokerClosed
	}
	for _, spec := range append(topology.Queues(), topology.DeadLetter()) {
		if _, ok := b.queues[spec.Name]; ok {
			continue
		}
		q := &queue{spec: spec, ch: make(chan *envelope, b.buffer)}
		b.queues[spec.Name] = q
		b.bindings = append(b.bindings, binding{exchange: spec.Exchange, pattern: spec.RoutingKey, queue: q})
	}
	return nil
}

func (b *Broker) Publish(_ context.Context, msg messaging.Message) error {
	return b.route(&envelope{id: msg.ID, routingKey: msg.RoutingKey, body: msg.Body}, msg.Exchange)
}

func (b *Broker) route(env *envelope, exchange string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return messaging.ErrBrokerClosed
	}

	routed := false
	for _, bind := range b.bindings {
		if bind.exchange != exchange || !messaging.MatchBinding(bind.pattern, env.routingKey) {
			continue
		}
		copied := *env
		copied.enqueuedAt = b.now()
		select {
		case bind.queue.ch <- &copied:
			routed = true
		default:
			return fmt.Errorf("%w: %s", ErrQueueFull, bind.queue.spec.Name)
		}
	}
	if !routed {
		return fmt.Errorf("%w: %s/%s", messaging.ErrUnroutable, exchange, env.routingKey)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, spec messaging.QueueSpec, h messaging.Handler) error {
	b.mu.RLock()
	q, ok := b.queues[spec.Name]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return messaging.ErrBrokerClosed
	}
	if !ok {
		return fmt.Errorf("memory broker: queue %s not declared", spec.Name)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-q.ch:
				if q.spec.TTL > 0 && b.now().Sub(env.enqueuedAt) > q.spec.TTL {
					b.deadLetter(q, env)
					continue
				}
				env.attempt++
				h(&delivery{broker: b, queue: q, env: env})
			}
		}
	}()
	return nil
}

func (b *Broker) deadLetter(q *queue, env *envelope) {
	if q.spec.DeadLetterExchange == "" {
		b.logger.Warn("message expired without dead-letter target", zap.String("queue", q.spec.Name))
		return
	}
	dead := &envelope{id: env.id, routingKey: q.spec.DeadLetterRoutingKey, body: env.body}
	if err := b.route(dead, q.spec.DeadLetterExchange); err != nil {
		b.logger.Error("dead-letter routing failed",
			zap.String("queue", q.spec.Name),
			zap.String("message_id", env.id),
			zap.Error(err))
	}
}

func (b *Broker) requeue(q *queue, env *envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return messaging.ErrBrokerClosed
	}
	select {
	case q.ch <- env:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, q.spec.Name)
	}
}

// Depth reports how many messages wait in a queue.
func (b *Broker) Depth(queueName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.ch)
	}
	return 0
}

func (b *Broker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return messaging.ErrBrokerClosed
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type delivery struct {
	broker  *Broker
	queue   *queue
	env     *envelope
	settled atomic.Bool
}

func (d *delivery) Body() []byte       { return d.env.body }
func (d *delivery) RoutingKey() string { return d.env.routingKey }
func (d *delivery) Attempt() int       { return d.env.attempt }

func (d *delivery) Ack() error {
	d.settled.Store(true)
	return nil
}

// Nak requeues the message. The original enqueue time is kept, so a
// message retried past its queue TTL is dead-lettered.
func (d *delivery) Nak() error {
	if d.settled.Swap(true) {
		return nil
	}
	return d.broker.requeue(d.queue, d.env)
}

func (d *delivery) Term() error {
	d.settled.Store(true)
	return nil
}
