package flagcache_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/flagcache"
)

// mapShared is an in-memory Shared implementation for tests.
type mapShared struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMapShared() *mapShared {
	return &mapShared{data: make(map[string][]byte)}
}

func (s *mapShared) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.data[key]
	if !ok {
		return nil, flagcache.ErrMiss
	}
	return data, nil
}

func (s *mapShared) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *mapShared) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *mapShared) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

// brokenShared fails every operation, simulating a Redis outage.
type brokenShared struct{}

var errDown = errors.New("connection refused")

func (brokenShared) Get(context.Context, string) ([]byte, error)               { return nil, errDown }
func (brokenShared) Set(context.Context, string, []byte, time.Duration) error  { return errDown }
func (brokenShared) Delete(context.Context, ...string) error                   { return errDown }
func (brokenShared) DeleteByPrefix(context.Context, string) error              { return errDown }

type flagValue struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

func TestMultiLayerLocalHitSkipsShared(t *testing.T) {
	t.Parallel()

	shared := newMapShared()
	c := flagcache.NewMultiLayer[flagValue](10, flagcache.WithShared[flagValue](shared))
	ctx := context.Background()

	c.Set(ctx, "dark_mode", flagValue{Key: "dark_mode", Enabled: true}, time.Minute)

	v, ok := c.Get(ctx, "dark_mode")
	require.True(t, ok)
	assert.True(t, v.Enabled)
	assert.Zero(t, shared.gets, "local hit must not touch the shared tier")
}

func TestMultiLayerSharedHitPromotes(t *testing.T) {
	t.Parallel()

	shared := newMapShared()
	ctx := context.Background()

	// Populate the shared tier through a different process's cache.
	writer := flagcache.NewMultiLayer[flagValue](10, flagcache.WithShared[flagValue](shared))
	writer.Set(ctx, "beta", flagValue{Key: "beta", Enabled: true}, time.Minute)

	reader := flagcache.NewMultiLayer[flagValue](10, flagcache.WithShared[flagValue](shared))
	v, ok := reader.Get(ctx, "beta")
	require.True(t, ok)
	assert.True(t, v.Enabled)

	// Second read comes from the promoted local entry.
	before := shared.gets
	_, ok = reader.Get(ctx, "beta")
	require.True(t, ok)
	assert.Equal(t, before, shared.gets)
}

func TestMultiLayerSharedFailureIsAMiss(t *testing.T) {
	t.Parallel()

	c := flagcache.NewMultiLayer[flagValue](10, flagcache.WithShared[flagValue](brokenShared{}))
	ctx := context.Background()

	_, ok := c.Get(ctx, "anything")
	assert.False(t, ok)

	// Writes and invalidations must not fail the caller either.
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", flagValue{Key: "k"}, time.Minute)
		c.Invalidate(ctx, "k")
		c.InvalidateByPrefix(ctx, "k")
	})

	// The local tier still works through the outage.
	v, ok := c.Get(ctx, "k")
	assert.False(t, ok, "invalidate removed the local entry")
	c.Set(ctx, "k2", flagValue{Key: "k2", Enabled: true}, time.Minute)
	v, ok = c.Get(ctx, "k2")
	require.True(t, ok)
	assert.True(t, v.Enabled)
}

func TestMultiLayerInvalidateBothTiers(t *testing.T) {
	t.Parallel()

	shared := newMapShared()
	c := flagcache.NewMultiLayer[flagValue](10, flagcache.WithShared[flagValue](shared))
	ctx := context.Background()

	c.Set(ctx, "flag:x", flagValue{Key: "x"}, time.Minute)
	c.Invalidate(ctx, "flag:x")

	_, ok := c.Get(ctx, "flag:x")
	assert.False(t, ok)
	assert.Empty(t, shared.data)
}

func TestMultiLayerWithoutShared(t *testing.T) {
	t.Parallel()

	c := flagcache.NewMultiLayer[int](10)
	ctx := context.Background()

	c.SetDefault(ctx, "n", 7)
	v, ok := c.Get(ctx, "n")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}
