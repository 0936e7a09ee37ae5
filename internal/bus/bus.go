// Package bus provides the synchronous in-process message bus that connects
// the orchestrator, the repository and the presentation layer.
//
// Publish delivers a message to every handler subscribed to its kind, in
// subscription order, on the publishing goroutine. There is no buffering and
// no retry. The first handler error stops delivery and is returned to the
// publisher.
package bus

import (
	"fmt"
	"sync"
)

type handler struct {
	id int
	fn func(Message) error
}

// Bus routes messages by kind.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Kind][]handler
	taps     []handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Kind][]handler)}
}

// Subscribe registers fn for messages of type M and returns a disposer.
func Subscribe[M Message](b *Bus, fn func(M) error) (dispose func()) {
	var zero M
	return b.subscribe(zero.Kind(), func(m Message) error {
		return fn(m.(M))
	})
}

// Tap registers fn for every message regardless of kind. Taps run after the
// kind handlers.
func (b *Bus) Tap(fn func(Message) error) (dispose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.taps = append(b.taps, handler{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.taps = without(b.taps, id)
	}
}

func (b *Bus) subscribe(kind Kind, fn func(Message) error) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], handler{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.handlers[kind] = without(b.handlers[kind], id)
		})
	}
}

// Publish delivers m synchronously.
func (b *Bus) Publish(m Message) error {
	b.mu.Lock()
	hs := make([]handler, 0, len(b.handlers[m.Kind()])+len(b.taps))
	hs = append(hs, b.handlers[m.Kind()]...)
	hs = append(hs, b.taps...)
	b.mu.Unlock()

	for _, h := range hs {
		if err := h.fn(m); err != nil {
			return fmt.Errorf("handling %s: %w", m.Kind(), err)
		}
	}
	return nil
}

func without(hs []handler, id int) []handler {
	out := hs[:0:0]
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}
