// ABOUTME: Thread-safe TTL cache mapping idempotency keys to prior results.
// ABOUTME: Used by the fake backend so retried message posts are not duplicated.

package idempotency

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the remembered result, its timestamp and list element.
type cacheEntry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited map from keys to
// the result first produced for them. Uses a doubly-linked list to
// maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the value remembered for key if it has not expired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return "", false
	}
	return entry.value, true
}

// Remember records value as the result for key. If the cache is at
// capacity, the oldest entry is evicted to make room.
func (c *Cache) Remember(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(key, value)
}

// Do returns the remembered value for key, or runs create and remembers
// its result. replayed reports whether the value came from the cache.
// create runs with the cache locked, so concurrent calls with the same key
// produce exactly one side effect. A failed create is not remembered.
func (c *Cache) Do(key string, create func() (string, error)) (value string, replayed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && time.Since(entry.timestamp) < c.ttl {
		return entry.value, true, nil
	}

	value, err = create()
	if err != nil {
		return "", false, err
	}
	c.rememberLocked(key, value)
	return value, false, nil
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// rememberLocked is the internal store implementation. Must be called with mu held.
func (c *Cache) rememberLocked(key, value string) {
	now := time.Now()

	// If key already exists, update it and move to back
	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
