// Package broadcast provides a bounded multi-consumer fan-out bus.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscriber buffer size.
const DefaultCapacity = 16

// Bus fans out published values to every active subscription.
// Each subscriber has its own bounded buffer; when a subscriber falls
// behind, its oldest buffered value is dropped to make room and the
// subscription's lag counter increments. Publishing never blocks.
type Bus[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     []*Subscription[T]
	closed   bool
}

// New creates a bus with the given per-subscriber capacity.
// A capacity <= 0 falls back to DefaultCapacity.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus[T]{capacity: capacity}
}

// Subscribe registers a new subscription. Subscriptions created before a
// Publish receive that publish; later ones do not.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{
		ch:   make(chan T, b.capacity),
		done: make(chan struct{}),
		bus:  b,
	}
	sub.C = sub.ch
	sub.Done = sub.done
	if b.closed {
		sub.closeDone()
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers v to every active subscription in registration order.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.send(v)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close signals all subscriptions and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.closeDone()
	}
	b.subs = nil
}

func (b *Bus[T]) remove(target *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscription receives values published on its bus.
type Subscription[T any] struct {
	// C yields published values in publish order.
	C <-chan T
	// Done closes when the bus closes or the subscription is cancelled.
	Done <-chan struct{}

	ch       chan T
	done     chan struct{}
	bus      *Bus[T]
	lagged   atomic.Uint64
	doneOnce sync.Once
}

func (s *Subscription[T]) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// send enqueues v, evicting the oldest buffered value when full.
// Only the bus publishes, so the evict-then-send pair cannot race
// with another producer.
func (s *Subscription[T]) send(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
		s.lagged.Add(1)
	default:
	}
	select {
	case s.ch <- v:
	default:
		s.lagged.Add(1)
	}
}

// Lagged reports how many values this subscription has missed.
// A non-zero delta between reads means there was a gap and the
// consumer should re-read current state.
func (s *Subscription[T]) Lagged() uint64 {
	return s.lagged.Load()
}

// Cancel detaches the subscription from the bus. Safe to call twice,
// and safe after the bus itself has closed.
func (s *Subscription[T]) Cancel() {
	s.bus.remove(s)
	s.closeDone()
}
