package memory

import (
	"context"
	"sync"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

type subscription struct {
	id      int
	handler ports.EventHandler
}

// Bus implements ports.EventBus with in-process fan-out. Handlers run
// synchronously in Publish order, so a subscriber sees stage events in
// the exact sequence the executor emitted them.
type Bus struct {
	subscribers map[string][]subscription
	nextID      int
	mu          sync.RWMutex
}

// NewBus creates a new in-memory event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
	}
}

// Publish delivers an event to all subscribers of a topic. Handler
// errors stay with the handler; publishing is best-effort by contract.
func (e *Bus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	handlers := make([]subscription, len(e.subscribers[topic]))
	copy(handlers, e.subscribers[topic])
	e.mu.RUnlock()

	for _, sub := range handlers {
		_ = sub.handler(ctx, event)
	}

	return nil
}

// Subscribe registers a handler for a topic. The subscription lives
// until ctx is cancelled or the bus is closed.
func (e *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscription{id: id, handler: handler})
	e.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			e.unsubscribe(topic, id)
		}()
	}

	return nil
}

// Close drops all subscriptions.
func (e *Bus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]subscription)
	return nil
}

func (e *Bus) unsubscribe(topic string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			e.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
