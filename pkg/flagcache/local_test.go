package flagcache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/flagcache"
)

func TestLocalGetSet(t *testing.T) {
	t.Parallel()

	c := flagcache.NewLocal[string](10)
	c.Set("a", "value-a", time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "value-a", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLocalTTLExpiry(t *testing.T) {
	t.Parallel()

	c := flagcache.NewLocal[int](10)
	c.Set("short", 42, 20*time.Millisecond)

	v, ok := c.Get("short")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(30 * time.Millisecond)

	_, ok = c.Get("short")
	assert.False(t, ok, "entry must never be served after expiry")
	assert.Equal(t, 0, c.Len(), "lazy expiry removes the entry on read")
}

func TestLocalCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	c := flagcache.NewLocal[int](3)
	for i := range 4 {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest-inserted entry is evicted on overflow")
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestLocalUpdateDoesNotGrow(t *testing.T) {
	t.Parallel()

	c := flagcache.NewLocal[int](2)
	c.Set("a", 1, time.Minute)
	c.Set("a", 2, time.Minute)

	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLocalInvalidateByPrefix(t *testing.T) {
	t.Parallel()

	c := flagcache.NewLocal[bool](10)
	c.Set("eval:dark_mode:u1", true, time.Minute)
	c.Set("eval:dark_mode:u2", false, time.Minute)
	c.Set("eval:beta:u1", true, time.Minute)

	c.InvalidateByPrefix("eval:dark_mode:")

	_, ok := c.Get("eval:dark_mode:u1")
	assert.False(t, ok)
	_, ok = c.Get("eval:dark_mode:u2")
	assert.False(t, ok)
	_, ok = c.Get("eval:beta:u1")
	assert.True(t, ok)
}

func TestNewLocalPanicsOnInvalidCapacity(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { flagcache.NewLocal[int](0) })
}
