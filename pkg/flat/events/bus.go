package events

import (
	"context"
	"errors"
	"sync"
)

// Handler consumes domain events.
type Handler interface {
	Handle(ctx context.Context, ev DomainEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev DomainEvent) error { return f(ctx, ev) }

// Bus delivers events synchronously to its subscribers, in subscription
// order, within the caller's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns a bus with the given subscribers.
func NewBus(handlers ...Handler) *Bus {
	return &Bus{handlers: handlers}
}

// Subscribe adds h.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish hands ev to every subscriber, even after one fails, and returns
// the joined errors.
func (b *Bus) Publish(ctx context.Context, ev DomainEvent) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
