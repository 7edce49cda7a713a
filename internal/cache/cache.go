package cache

import (
	"sync"
	"time"
)

// Cache is a TTL map with sliding expiry: every Get pushes the deadline
// out again. Expired entries are handed to the eviction callback, which
// runs outside the lock.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	m       map[string]entry[V]
	onEvict func(key string, val V)
	now     func() time.Time
}

type entry[V any] struct {
	val V
	exp time.Time
}

func New[V any](ttl time.Duration, onEvict func(key string, val V)) *Cache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache[V]{
		ttl:     ttl,
		m:       make(map[string]entry[V]),
		onEvict: onEvict,
		now:     time.Now,
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.m[key]
	if !ok {
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	if now.After(e.exp) {
		delete(c.m, key)
		c.mu.Unlock()
		c.evict(key, e.val)
		var zero V
		return zero, false
	}

	e.exp = now.Add(c.ttl)
	c.m[key] = e
	c.mu.Unlock()

	return e.val, true
}

func (c *Cache[V]) Set(key string, val V) {
	c.mu.Lock()
	c.m[key] = entry[V]{val: val, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes key without calling the eviction callback.
func (c *Cache[V]) Delete(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.m[key]
	delete(c.m, key)
	c.mu.Unlock()

	return e.val, ok
}

// Sweep evicts every expired entry and reports how many went.
func (c *Cache[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var expired []string
	var vals []V
	for k, e := range c.m {
		if now.After(e.exp) {
			expired = append(expired, k)
			vals = append(vals, e.val)
			delete(c.m, k)
		}
	}
	c.mu.Unlock()

	for i, k := range expired {
		c.evict(k, vals[i])
	}
	return len(expired)
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Clear evicts everything.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	old := c.m
	c.m = make(map[string]entry[V])
	c.mu.Unlock()

	for k, e := range old {
		c.evict(k, e.val)
	}
}

func (c *Cache[V]) evict(key string, val V) {
	if c.onEvict != nil {
		c.onEvict(key, val)
	}
}
