package flagcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// MultiLayer is the two-tier flag cache: a bounded in-process tier checked
// first, backed by an optional shared tier. Values cross the shared tier as
// JSON.
//
// The shared tier is strictly best-effort. Any transport failure is logged
// at warning level and treated as a miss, so a broken Redis degrades flag
// resolution to the store instead of failing it.
type MultiLayer[T any] struct {
	local      *Local[T]
	shared     Shared
	log        *slog.Logger
	defaultTTL time.Duration
}

// MultiLayerOption configures a MultiLayer cache.
type MultiLayerOption[T any] func(*MultiLayer[T])

// WithShared attaches a shared second tier.
func WithShared[T any](shared Shared) MultiLayerOption[T] {
	return func(c *MultiLayer[T]) { c.shared = shared }
}

// WithLogger sets the logger for shared-tier degradation warnings.
func WithLogger[T any](log *slog.Logger) MultiLayerOption[T] {
	return func(c *MultiLayer[T]) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDefaultTTL sets the TTL used by SetDefault.
func WithDefaultTTL[T any](ttl time.Duration) MultiLayerOption[T] {
	return func(c *MultiLayer[T]) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewMultiLayer creates a two-tier cache with the given local capacity.
// Without WithShared it degenerates to a purely local cache, which is the
// right shape for single-process deployments and tests.
func NewMultiLayer[T any](localCapacity int, opts ...MultiLayerOption[T]) *MultiLayer[T] {
	c := &MultiLayer[T]{
		local:      NewLocal[T](localCapacity),
		log:        slog.Default(),
		defaultTTL: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get checks the local tier first (no I/O), then the shared tier. A shared
// hit is promoted into the local tier with the default TTL.
func (c *MultiLayer[T]) Get(ctx context.Context, key string) (T, bool) {
	if value, ok := c.local.Get(key); ok {
		return value, true
	}

	var zero T
	if c.shared == nil {
		return zero, false
	}

	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("shared cache read failed, treating as miss", "key", key, "error", err)
		}
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.log.Warn("shared cache entry is not decodable, treating as miss", "key", key, "error", err)
		return zero, false
	}

	c.local.Set(key, value, c.defaultTTL)
	return value, true
}

// Set writes both tiers. A shared-tier failure is logged and otherwise
// ignored; the local tier is authoritative for this process.
func (c *MultiLayer[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.local.Set(key, value, ttl)

	if c.shared == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value is not encodable, skipping shared tier", "key", key, "error", err)
		return
	}
	if err := c.shared.Set(ctx, key, data, ttl); err != nil {
		c.log.Warn("shared cache write failed", "key", key, "error", err)
	}
}

// SetDefault writes with the configured default TTL.
func (c *MultiLayer[T]) SetDefault(ctx context.Context, key string, value T) {
	c.Set(ctx, key, value, c.defaultTTL)
}

// Invalidate removes a key from both tiers immediately.
func (c *MultiLayer[T]) Invalidate(ctx context.Context, key string) {
	c.local.Invalidate(key)
	if c.shared == nil {
		return
	}
	if err := c.shared.Delete(ctx, key); err != nil {
		c.log.Warn("shared cache invalidation failed", "key", key, "error", err)
	}
}

// ClearLocal drops every entry in the in-process tier. The shared tier is
// untouched: it serves other instances, and a full reload supersedes local
// entries anyway.
func (c *MultiLayer[T]) ClearLocal() {
	c.local.Clear()
}

// InvalidateByPrefix removes every key with the prefix from both tiers,
// used to purge all per-context entries of a flag on delete or disable.
func (c *MultiLayer[T]) InvalidateByPrefix(ctx context.Context, prefix string) {
	c.local.InvalidateByPrefix(prefix)
	if c.shared == nil {
		return
	}
	if err := c.shared.DeleteByPrefix(ctx, prefix); err != nil {
		c.log.Warn("shared cache prefix invalidation failed", "prefix", prefix, "error", err)
	}
}
