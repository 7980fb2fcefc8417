// Package events fans tracker and coordinator events out to subscribers.
package events

import (
	"context"
	"sync"

	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

const defaultBuffer = 64

// Bus fans out events to all subscribers via buffered channels.
// Publishing never blocks: slow subscribers miss events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan domain.Event]struct{}
	buffer int
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[chan domain.Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping if a reader is slow.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Bus) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Bus) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Handler consumes events delivered by Run.
type Handler interface {
	Handle(ctx context.Context, e domain.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e domain.Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e domain.Event) { f(ctx, e) }

// Run subscribes h and feeds it events until ctx is done.
func (b *Bus) Run(ctx context.Context, h Handler) {
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			dispatch(ctx, h, e)
		}
	}
}

// dispatch delivers one event; a panicking handler loses the event, not the subscription.
func dispatch(ctx context.Context, h Handler, e domain.Event) {
	defer func() {
		_ = recover()
	}()

	h.Handle(ctx, e)
}
