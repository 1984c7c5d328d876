package messaging

import (
	"context"
	"errors"
)

// ErrUnroutable is returned when no queue is bound for a routing key.
var ErrUnroutable = errors.New("messaging: no queue bound for routing key")

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("messaging: broker closed")

// Message is an outbound publish.
type Message struct {
	ID         string
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Delivery is one inbound message. Exactly one of Ack, Nak or Term should be
// called per delivery.
type Delivery interface {
	Body() []byte
	RoutingKey() string
	// Attempt is the 1-based delivery count reported by the broker.
	Attempt() int
	// Ack removes the message.
	Ack() error
	// Nak asks the broker to redeliver.
	Nak() error
	// Term drops the message without redelivery.
	Term() error
}

// Handler receives deliveries for one queue. It must not block for long;
// the consumer hands work to a pool and returns.
type Handler func(Delivery)

// Broker is the transport the producer and consumers depend on.
type Broker interface {
	// Declare creates exchanges, queues and dead-letter bindings. It is
	// idempotent.
	Declare(ctx context.Context, topology *Topology) error
	Publish(ctx context.Context, msg Message) error
	// Subscribe starts delivering queue messages to h until ctx is done.
	Subscribe(ctx context.Context, queue QueueSpec, h Handler) error
	Ping(ctx context.Context) error
	Close() error
}
