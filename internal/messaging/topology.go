// Package messaging declares the queue topology and the broker contract the
// event pipeline runs on.
package messaging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fastygo/knowledge/domain"
)

const (
	DeadLetterExchange = "dlx.exchange"
	DeadLetterQueue    = "dlx.queue"
	deadLetterPrefix   = "dlx."
	// DeadLetterBinding matches every dead-letter routing key.
	DeadLetterBinding = "dlx.#"
)

// QueueSpec describes one durable queue and its bindings.
type QueueSpec struct {
	Domain               domain.EventDomain
	Action               string
	Name                 string
	Exchange             string
	RoutingKey           string
	Durable              bool
	TTL                  time.Duration
	DeadLetterExchange   string
	DeadLetterRoutingKey string
}

// Topology is the static set of exchanges and queues. Build it once at
// startup; it is read-only afterwards.
type Topology struct {
	queues     []QueueSpec
	byKey      map[string]QueueSpec
	deadLetter QueueSpec
}

// ExchangeFor names the exchange of a domain.
func ExchangeFor(d domain.EventDomain) string {
	return string(d) + ".exchange"
}

// QueueName names the queue of a domain action.
func QueueName(d domain.EventDomain, action string) string {
	return domain.RoutingKey(d, action) + ".queue"
}

// DeadLetterKey is the routing key a message from routingKey is
// dead-lettered with.
func DeadLetterKey(routingKey string) string {
	return deadLetterPrefix + routingKey
}

// OriginalKey strips the dead-letter prefix.
func OriginalKey(deadLetterKey string) string {
	return strings.TrimPrefix(deadLetterKey, deadLetterPrefix)
}

// NewQueueSpec fills every derived name for a domain action.
func NewQueueSpec(d domain.EventDomain, action string, ttl time.Duration) QueueSpec {
	key := domain.RoutingKey(d, action)
	return QueueSpec{
		Domain:               d,
		Action:               action,
		Name:                 QueueName(d, action),
		Exchange:             ExchangeFor(d),
		RoutingKey:           key,
		Durable:              true,
		TTL:                  ttl,
		DeadLetterExchange:   DeadLetterExchange,
		DeadLetterRoutingKey: DeadLetterKey(key),
	}
}

// DefaultTopology is the platform queue layout.
func DefaultTopology() *Topology {
	const (
		statsTTL        = 15 * time.Second
		contentTTL      = 30 * time.Second
		notificationTTL = 60 * time.Second
	)
	t, err := NewTopology(
		NewQueueSpec(domain.DomainArticle, domain.ActionPublish, contentTTL),
		NewQueueSpec(domain.DomainArticle, domain.ActionUpdate, contentTTL),
		NewQueueSpec(domain.DomainComment, domain.ActionPublish, contentTTL),
		NewQueueSpec(domain.DomainComment, domain.ActionApprove, contentTTL),
		NewQueueSpec(domain.DomainNotification, domain.ActionEmail, notificationTTL),
		NewQueueSpec(domain.DomainStats, domain.ActionVisit, statsTTL),
		NewQueueSpec(domain.DomainStats, domain.ActionSearch, statsTTL),
	)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTopology validates and indexes queue specs.
func NewTopology(queues ...QueueSpec) (*Topology, error) {
	t := &Topology{
		queues: append([]QueueSpec(nil), queues...),
		byKey:  make(map[string]QueueSpec, len(queues)),
		deadLetter: QueueSpec{
			Name:       DeadLetterQueue,
			Exchange:   DeadLetterExchange,
			RoutingKey: DeadLetterBinding,
			Durable:    true,
		},
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	for _, q := range t.queues {
		t.byKey[q.RoutingKey] = q
	}
	return t, nil
}

// Validate checks names are unique and every queue dead-letters.
func (t *Topology) Validate() error {
	names := make(map[string]struct{}, len(t.queues))
	keys := make(map[string]struct{}, len(t.queues))
	for _, q := range t.queues {
		if q.Name == "" || q.RoutingKey == "" || q.Exchange == "" {
			return fmt.Errorf("queue %q: name, exchange and routing key are required", q.Name)
		}
		if q.TTL <= 0 {
			return fmt.Errorf("queue %q: ttl must be positive", q.Name)
		}
		if q.DeadLetterExchange == "" || q.DeadLetterRoutingKey == "" {
			return fmt.Errorf("queue %q: dead-letter target is required", q.Name)
		}
		if _, dup := names[q.Name]; dup {
			return fmt.Errorf("duplicate queue %q", q.Name)
		}
		if _, dup := keys[q.RoutingKey]; dup {
			return fmt.Errorf("duplicate routing key %q", q.RoutingKey)
		}
		names[q.Name] = struct{}{}
		keys[q.RoutingKey] = struct{}{}
	}
	return nil
}

// Queues returns every domain queue in declaration order.
func (t *Topology) Queues() []QueueSpec {
	return append([]QueueSpec(nil), t.queues...)
}

// DeadLetter returns the dead-letter queue spec.
func (t *Topology) DeadLetter() QueueSpec {
	return t.deadLetter
}

// Queue looks up the queue for a domain action.
func (t *Topology) Queue(d domain.EventDomain, action string) (QueueSpec, bool) {
	return t.Lookup(domain.RoutingKey(d, action))
}

// Lookup finds the queue bound to routingKey.
func (t *Topology) Lookup(routingKey string) (QueueSpec, bool) {
	q, ok := t.byKey[routingKey]
	return q, ok
}

// Exchanges lists the distinct domain exchanges, sorted.
func (t *Topology) Exchanges() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, q := range t.queues {
		if _, ok := seen[q.Exchange]; ok {
			continue
		}
		seen[q.Exchange] = struct{}{}
		out = append(out, q.Exchange)
	}
	sort.Strings(out)
	return out
}

// QueuesFor returns the queues of one domain.
func (t *Topology) QueuesFor(d domain.EventDomain) []QueueSpec {
	var out []QueueSpec
	for _, q := range t.queues {
		if q.Domain == d {
			out = append(out, q)
		}
	}
	return out
}

// MatchBinding reports whether routingKey matches a binding pattern. A
// trailing ".#" matches any suffix; anything else must match exactly.
func MatchBinding(pattern, routingKey string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "#"); ok {
		return strings.HasPrefix(routingKey, prefix)
	}
	return pattern == routingKey
}
