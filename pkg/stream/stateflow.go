package stream

import (
	"context"
	"sync"
)

// StateFlow holds a single current value and broadcasts every change to its
// subscribers. New subscribers receive the current value immediately. Slow
// subscribers only ever see the latest value; intermediate values are dropped.
type StateFlow[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[uint64]chan T
	nextID uint64
}

// NewStateFlow creates a StateFlow seeded with initial.
func NewStateFlow[T any](initial T) *StateFlow[T] {
	return &StateFlow[T]{
		value: initial,
		subs:  make(map[uint64]chan T),
	}
}

// Value returns the current value.
func (s *StateFlow[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the current value and notifies subscribers.
func (s *StateFlow[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// Update atomically replaces the current value with fn(current).
func (s *StateFlow[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	for _, ch := range s.subs {
		offer(ch, s.value)
	}
	return s.value
}

// Subscribe returns a channel that receives the current value and every
// subsequent change. The channel is closed once ctx is done.
func (s *StateFlow[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.value
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// SubscriberCount reports the number of live subscriptions.
func (s *StateFlow[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// offer replaces whatever is buffered in ch with v. Callers hold s.mu, so
// there is a single writer per channel at any time.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
