// Package dispatch provides an unbounded multi-producer, single-consumer
// event queue. Producers never block; the consumer suspends until an event
// is available or every producer has gone away.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once every Sender has been closed and the
// queue has been drained. No further events can ever arrive.
var ErrClosed = errors.New("dispatcher closed: no producers remain")

// Dispatcher is the consumer side of the queue. Exactly one goroutine may call Next.
type Dispatcher[E any] struct {
	mu        sync.Mutex
	entries   []E
	producers int
	wake      chan struct{}
}

// Sender is a producer handle. Each clone counts as an independent producer
// and must be closed separately.
type Sender[E any] struct {
	d      *Dispatcher[E]
	mu     sync.Mutex
	closed bool
}

// New creates a dispatcher and its first producer handle.
func New[E any]() (*Dispatcher[E], *Sender[E]) {
	d := &Dispatcher[E]{
		entries:   make([]E, 0),
		producers: 1,
		wake:      make(chan struct{}, 1),
	}
	return d, &Sender[E]{d: d}
}

// Next blocks until an event is queued and returns it in arrival order.
// Returns ErrClosed when the queue is empty and no producers remain, or
// ctx.Err() if ctx is cancelled first.
func (d *Dispatcher[E]) Next(ctx context.Context) (E, error) {
	var zero E
	for {
		d.mu.Lock()
		if len(d.entries) > 0 {
			e := d.entries[0]
			d.entries[0] = zero
			d.entries = d.entries[1:]
			d.mu.Unlock()
			return e, nil
		}
		if d.producers == 0 {
			d.mu.Unlock()
			return zero, ErrClosed
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-d.wake:
		}
	}
}

// Len returns the number of queued events.
func (d *Dispatcher[E]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Dispatcher[E]) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Send enqueues e without blocking. Returns false if this sender is closed.
func (s *Sender[E]) Send(e E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.d.mu.Lock()
	s.d.entries = append(s.d.entries, e)
	s.d.mu.Unlock()
	s.d.signal()
	return true
}

// Clone registers a new producer on the same dispatcher. Cloning a closed
// sender yields a closed sender.
func (s *Sender[E]) Clone() *Sender[E] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Sender[E]{d: s.d, closed: true}
	}

	s.d.mu.Lock()
	s.d.producers++
	s.d.mu.Unlock()
	return &Sender[E]{d: s.d}
}

// Close releases this producer. Idempotent.
func (s *Sender[E]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.d.mu.Lock()
	s.d.producers--
	s.d.mu.Unlock()
	s.d.signal()
}
