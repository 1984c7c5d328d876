package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fastygo/knowledge/domain"
)

// HandlerFunc applies the side effect of one event. It must be idempotent:
// deliveries can repeat and arrive out of order.
type HandlerFunc func(ctx context.Context, event *domain.DomainEvent) error

// Registry maps routing keys to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds h to the routing key of d and action, replacing any
// previous handler.
func (r *Registry) Register(d domain.EventDomain, action string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[domain.RoutingKey(d, action)] = h
}

func (r *Registry) Lookup(routingKey string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[routingKey]
	return h, ok
}

// Dispatch runs the handler registered for the event's routing key.
func (r *Registry) Dispatch(ctx context.Context, event *domain.DomainEvent) error {
	h, ok := r.Lookup(event.RoutingKey())
	if !ok {
		return fmt.Errorf("handler for %s not registered", event.RoutingKey())
	}
	return h(ctx, event)
}

// Keys lists registered routing keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
