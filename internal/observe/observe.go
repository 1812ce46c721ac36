// Package observe provides a small publish-subscribe primitive used by the
// document, session, and communication layers. Each Subject fans events out
// to independently-driven subscribers over buffered channels; a slow
// subscriber never blocks the publisher.
//
// Subscriptions are explicit resources: callers must Close() them when done,
// and a closed Subject closes every remaining subscription channel so
// range loops over Events() terminate.
package observe

import "sync"

// defaultBuffer is the per-subscription channel capacity. Publishers drop
// the oldest buffered event when a subscriber falls this far behind.
const defaultBuffer = 16

// Subject is a broadcast channel for values of type T.
// The zero value is not usable; create one with NewSubject.
type Subject[T any] struct {
	mu     sync.Mutex
	closed bool
	subs   map[int]*Subscription[T]
	nextID int
}

// NewSubject creates an empty subject with no subscribers.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]*Subscription[T])}
}

// Subscribe registers a new subscriber and returns its subscription.
// Subscribing to a closed subject returns an already-completed subscription.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription[T]{ch: make(chan T, defaultBuffer)}
	if s.closed {
		close(sub.ch)
		return sub
	}
	id := s.nextID
	s.nextID++
	sub.cancel = func() { s.unsubscribe(id) }
	s.subs[id] = sub
	return sub
}

// Publish delivers v to every live subscriber. If a subscriber's buffer is
// full the oldest pending event is discarded in favour of v, so subscribers
// always converge on the most recent state.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		select {
		case sub.ch <- v:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
		}
	}
}

// Close completes every subscription and rejects further publishes.
// Safe to call multiple times.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}

func (s *Subject[T]) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Subscription is one subscriber's view of a Subject.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// Events returns the channel of published values. The channel is closed when
// the subscription or its subject is closed.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Close detaches the subscriber and closes its channel.
// Safe to call multiple times.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
