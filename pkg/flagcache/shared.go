package flagcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss reports that the shared layer has no value for a key.
var ErrMiss = errors.New("flagcache: shared cache miss")

// Shared is the second cache tier, visible to every process instance.
// Implementations must treat all operations as best-effort: the multi-layer
// cache downgrades any error to a miss.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// RedisShared implements the shared tier on Redis. Every operation carries a
// short timeout so a slow Redis cannot eat the evaluation latency budget.
type RedisShared struct {
	client    redis.UniversalClient
	keyPrefix string
	opTimeout time.Duration
}

// RedisSharedConfig tunes the Redis tier.
type RedisSharedConfig struct {
	// KeyPrefix namespaces flag cache keys in a shared Redis instance.
	KeyPrefix string `env:"FLAG_CACHE_KEY_PREFIX" envDefault:"flagkit:"`
	// OpTimeout bounds each Redis round trip. It is intentionally a small
	// fraction of the evaluation latency budget.
	OpTimeout time.Duration `env:"FLAG_CACHE_OP_TIMEOUT" envDefault:"2ms"`
}

// NewRedisShared wraps a connected Redis client as a shared cache tier.
func NewRedisShared(client redis.UniversalClient, cfg RedisSharedConfig) *RedisShared {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Millisecond
	}
	return &RedisShared{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
	}
}

func (s *RedisShared) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisShared) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.client.Set(ctx, s.keyPrefix+key, data, ttl).Err()
}

func (s *RedisShared) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.keyPrefix + k
	}
	return s.client.Del(ctx, prefixed...).Err()
}

// DeleteByPrefix scans for matching keys and deletes them in batches.
// Invalidation is rare relative to reads, so the SCAN cost is acceptable.
func (s *RedisShared) DeleteByPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*s.opTimeout)
	defer cancel()

	iter := s.client.Scan(ctx, 0, s.keyPrefix+prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}
