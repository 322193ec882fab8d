package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster fans messages out inside a single process. It is the
// right transport for single-instance deployments and tests; multi-instance
// fleets use RedisBroadcaster. All methods are safe for concurrent use.
type MemoryBroadcaster[T any] struct {
	subscribers map[*subscriber[T]]struct{}
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
}

// NewMemoryBroadcaster creates an in-memory broadcaster. bufferSize is the
// per-subscriber channel buffer; a minimum of 1 is enforced so sends stay
// non-blocking.
func NewMemoryBroadcaster[T any](bufferSize int) *MemoryBroadcaster[T] {
	return &MemoryBroadcaster[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe registers a new subscriber. The subscription is removed when
// the context is cancelled. A closed broadcaster hands back an
// already-closed subscriber.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub := newSubscriber[T](b.bufferSize)
		_ = sub.Close()
		return sub
	}

	sub := newSubscriber[T](b.bufferSize)
	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			<-ctx.Done()
			b.unsubscribe(sub)
		}()
	}

	return sub
}

// Broadcast sends to every active subscriber without blocking. Subscribers
// whose buffer is full miss the message and are dropped; flag consumers
// recover on the next full resync.
func (b *MemoryBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for sub := range b.subscribers {
		if !sub.send(msg) {
			// Unsubscribe asynchronously: we hold the read lock here.
			go b.unsubscribe(sub)
		}
	}

	return nil
}

// Close shuts the broadcaster down and closes all subscribers. Idempotent.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	for sub := range b.subscribers {
		_ = sub.Close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	b.cleanupWg.Wait()
	return nil
}

func (b *MemoryBroadcaster[T]) unsubscribe(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	_ = sub.Close()
}
