package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes a single event. Handlers must not block: the bus
// dispatches synchronously in emission order so that listeners observe a
// flow's events in the order the engine produced them.
type Handler func(ctx context.Context, event Event)

// Bus broadcasts lifecycle events to registered handlers.
//
// Dispatch is synchronous and in-order per emitting goroutine. Independent
// branches of a fan-out (e.g. chapters written concurrently) emit from their
// own goroutines, so their event pairs may interleave arbitrarily; handlers
// must tolerate that. A panicking handler is recovered and logged so that
// observability failures never abort the pipeline.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType][]subscription
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates an event bus with no registered handlers.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]subscription),
	}
}

// On registers a handler for the given event type and returns a
// function that removes exactly this subscription.
func (b *Bus) On(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.handlers[eventType]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Off removes all handlers for the given event type.
func (b *Bus) Off(eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, eventType)
}

// Emit delivers the event to every handler registered for its type.
// The handler slice is snapshotted under the read lock so that handlers may
// register or remove subscriptions without deadlocking.
func (b *Bus) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type]))
	for _, sub := range b.handlers[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, handler, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event handler panicked",
				"event", string(event.Type),
				"panic", r)
		}
	}()

	handler(ctx, event)
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers[eventType])
}

// Reset removes all handlers for all event types.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]subscription)
}
