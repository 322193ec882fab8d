package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster fans messages out across process instances over a Redis
// pub/sub channel. Payloads cross the wire as JSON; unknown fields are
// ignored on decode so multiple process versions can coexist during a
// rolling deploy.
//
// Redis pub/sub is fire-and-forget: a subscriber that is down misses the
// message. That is acceptable for flag-change notifications because every
// instance also runs a periodic full resync.
type RedisBroadcaster[T any] struct {
	client     redis.UniversalClient
	channel    string
	bufferSize int
	log        *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*redisSubscriber[T]]struct{}
}

// NewRedisBroadcaster creates a broadcaster on the named pub/sub channel.
func NewRedisBroadcaster[T any](client redis.UniversalClient, channel string, bufferSize int, log *slog.Logger) *RedisBroadcaster[T] {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroadcaster[T]{
		client:     client,
		channel:    channel,
		bufferSize: max(bufferSize, 1),
		log:        log,
		subs:       make(map[*redisSubscriber[T]]struct{}),
	}
}

type redisSubscriber[T any] struct {
	*subscriber[T]
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *redisSubscriber[T]) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		_ = s.subscriber.Close()
	})
	return err
}

// Subscribe opens a dedicated Redis subscription and pumps decoded messages
// into the returned subscriber until the context is cancelled or the
// subscriber is closed.
func (b *RedisBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &redisSubscriber[T]{
		subscriber: newSubscriber[T](b.bufferSize),
		pubsub:     b.client.Subscribe(ctx, b.channel),
	}

	if b.closed {
		_ = sub.Close()
		return sub
	}
	b.subs[sub] = struct{}{}

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			_ = sub.Close()
		}()

		ch := sub.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case rm, ok := <-ch:
				if !ok {
					return
				}
				var data T
				if err := json.Unmarshal([]byte(rm.Payload), &data); err != nil {
					b.log.Warn("dropping undecodable broadcast payload",
						"channel", b.channel, "error", err)
					continue
				}
				// Non-blocking send mirrors the in-memory transport: a slow
				// consumer misses messages rather than stalling the pump.
				sub.send(Message[T]{Data: data})
			}
		}
	}()

	return sub
}

// Broadcast publishes the message to the Redis channel.
func (b *RedisBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Close closes all local subscriptions. The Redis client itself is owned by
// the caller and stays open.
func (b *RedisBroadcaster[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for sub := range b.subs {
		_ = sub.Close()
	}
	clear(b.subs)
	return nil
}
