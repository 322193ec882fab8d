package broadcast

import (
	"context"
	"sync"
)

// Message wraps data of type T for type-safe broadcasting.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages from a Broadcaster.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns a channel for receiving broadcast messages. The
	// context lets transport-backed implementations respect cancellation
	// during blocking reads; the in-memory implementation ignores it.
	Receive(ctx context.Context) <-chan Message[T]

	// Close closes the subscriber and releases resources. After Close the
	// receive channel is closed. Close is idempotent.
	Close() error
}

// Broadcaster sends messages to multiple subscribers. Delivery is
// at-least-once and unordered: implementations drop messages for slow
// consumers rather than blocking the publisher, and no cross-process
// ordering is guaranteed. Consumers of flag-change notifications must
// tolerate duplicates and reordering.
type Broadcaster[T any] interface {
	// Subscribe creates a subscriber receiving all subsequent messages.
	// The subscription is cleaned up when the context is cancelled.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast sends a message to all active subscribers.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts down the broadcaster and closes all subscribers.
	Close() error
}

type subscriber[T any] struct {
	ch     chan Message[T]
	closed bool
	mu     sync.RWMutex
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{
		ch: make(chan Message[T], bufferSize),
	}
}

func (s *subscriber[T]) Receive(ctx context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

// send delivers non-blocking; a full buffer means the message is dropped
// for this subscriber.
func (s *subscriber[T]) send(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
