package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler receives events from the Bus. Handlers run on the dispatcher
// goroutine, one event at a time, and may Publish further events.
type Handler func(ctx context.Context, e Event)

// Bus delivers events in publish order on a single goroutine. Publish never
// blocks, so handlers can publish without deadlocking the dispatcher.
type Bus struct {
	mu       sync.Mutex
	queue    []Event
	handlers []Handler
	notify   chan struct{}
	closed   bool
}

// NewBus returns a Bus. Call Run to start dispatching.
func NewBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Subscribe adds h. Subscribe before Run.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish queues e for delivery. Events published after Run returns are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		b.closed = true
		b.queue = nil
		b.mu.Unlock()
	}()

	for {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			e := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			handlers := b.handlers
			b.mu.Unlock()

			for _, h := range handlers {
				b.dispatch(ctx, h, e)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "events").Str("event", Name(e)).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	h(ctx, e)
}
