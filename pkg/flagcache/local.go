package flagcache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type localEntry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// Local is a bounded in-process cache with per-entry absolute expiry.
// Expiry is checked lazily on read; there is no background sweeper. When the
// cache is full the oldest-inserted entry is evicted, which is a deliberate
// simplification over strict LRU: eviction precision is not behaviorally
// significant for flag evaluation, boundedness is.
type Local[T any] struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = newest inserted
}

// NewLocal creates a bounded local cache. Capacity must be positive.
func NewLocal[T any](capacity int) *Local[T] {
	if capacity <= 0 {
		panic("flagcache: local cache capacity must be positive")
	}
	return &Local[T]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value if present and not expired. An expired entry
// is removed on the spot and reported as a miss.
func (c *Local[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	entry := elem.Value.(*localEntry[T])
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}
	return entry.value, true
}

// Set stores a value with an absolute expiry of now+ttl, evicting the oldest
// entry first when at capacity.
func (c *Local[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*localEntry[T])
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	c.items[key] = c.order.PushFront(&localEntry[T]{key: key, value: value, expiresAt: expiresAt})
}

// Invalidate removes a single key.
func (c *Local[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// InvalidateByPrefix removes every key with the given prefix.
func (c *Local[T]) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
		}
	}
}

// Len reports the number of entries, including any not yet lazily expired.
func (c *Local[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *Local[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Must be called with the lock held.
func (c *Local[T]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*localEntry[T])
	delete(c.items, entry.key)
}
