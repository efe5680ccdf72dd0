// Package bus is the bounded broadcast primitive between ingress and
// egress. Publishers never block: a subscriber whose buffer is full
// loses messages and observes the loss as a lag count on its next
// receive, which the session turns into a resync.
package bus

import (
	"sync"

	"go.uber.org/atomic"
)

// Subscription is one consumer's handle on the bus. Drain C in a
// dedicated goroutine and call TakeLag before trusting continuity.
type Subscription[T any] struct {
	// C delivers published messages in publish order, minus anything
	// dropped while the buffer was full.
	C <-chan T

	ch      chan T
	dropped atomic.Uint64
	bus     *Bus[T]
	once    sync.Once
}

// TakeLag returns how many messages were dropped since the last call
// and resets the count. A non-zero result means the subscriber must
// resync rather than trust its incremental state.
func (s *Subscription[T]) TakeLag() uint64 {
	return s.dropped.Swap(0)
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Bus fans published messages out to every live subscription.
type Bus[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	capacity int

	published atomic.Uint64
}

// New creates a bus whose subscriptions buffer up to capacity messages.
func New[T any](capacity int) *Bus[T] {
	return &Bus[T]{
		subs:     make(map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Subscribe registers a new consumer starting at the current position.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, b.capacity)
	sub := &Subscription[T]{C: ch, ch: ch}
	sub.bus = b
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers msg to every subscription without ever blocking the
// caller. Full subscribers record a drop instead.
func (b *Bus[T]) Publish(msg T) {
	b.published.Inc()
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Inc()
		}
	}
	b.mu.Unlock()
}

// Subscribers reports the number of live subscriptions.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published reports the total number of messages published.
func (b *Bus[T]) Published() uint64 {
	return b.published.Load()
}

func (b *Bus[T]) unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
