// Package cache provides a thread-safe, capacity-bounded map with a TTL for
// each entry. It backs every result cache in the detection core (verdicts,
// suspicion analyses, sanitization and moderation results).
//
// Eviction is deliberately not LRU: when the cache is full, the oldest
// fraction of entries by insertion order is dropped in one batch. Lookups do
// not reorder entries, which keeps eviction deterministic.
package cache

import (
	"sync"
	"time"
)

const defaultEvictDivisor = 4 // drop the oldest quarter when full

// Entry is a stored value with its expiry.
type Entry[V any] struct {
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Stats reports cache traffic counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe bounded TTL cache.
type Cache[V any] struct {
	mu       sync.RWMutex
	data     map[string]*Entry[V]
	order    []string // insertion order, oldest first
	ttl      time.Duration
	capacity int
	stats    Stats

	// optional metric hooks, invoked outside hot-path allocation but
	// under the cache lock; keep them cheap
	onHit   func()
	onMiss  func()
	onEvict func(n int)
}

// New creates a cache holding at most capacity entries, each expiring after ttl.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache[V]{
		data:     make(map[string]*Entry[V], capacity),
		order:    make([]string, 0, capacity),
		ttl:      ttl,
		capacity: capacity,
	}
}

// WithHooks registers metric callbacks for hits, misses and evictions.
// Any of the hooks may be nil.
func (c *Cache[V]) WithHooks(onHit, onMiss func(), onEvict func(n int)) *Cache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHit = onHit
	c.onMiss = onMiss
	c.onEvict = onEvict
	return c
}

// Get retrieves a value if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.data[key]
	expired := exists && time.Now().After(entry.ExpiresAt)
	c.mu.RUnlock()

	if exists && !expired {
		c.mu.Lock()
		c.stats.Hits++
		hook := c.onHit
		c.mu.Unlock()
		if hook != nil {
			hook()
		}
		return entry.Value, true
	}

	if expired {
		c.mu.Lock()
		if current, ok := c.data[key]; ok && time.Now().After(current.ExpiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.stats.Misses++
	hook := c.onMiss
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return zero, false
}

// Set stores a value, evicting the oldest batch of entries first if the
// cache is at capacity.
func (c *Cache[V]) Set(key string, value V) {
	now := time.Now()

	c.mu.Lock()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.capacity {
		evicted := c.evictOldestLocked()
		c.stats.Evictions += uint64(evicted)
		if c.onEvict != nil && evicted > 0 {
			hook := c.onEvict
			c.mu.Unlock()
			hook(evicted)
			c.mu.Lock()
		}
	}
	if _, exists := c.data[key]; !exists {
		c.order = append(c.order, key)
	}
	c.data[key] = &Entry[V]{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()
}

// evictOldestLocked removes the oldest capacity/4 live entries (at least one).
// Caller must hold the write lock.
func (c *Cache[V]) evictOldestLocked() int {
	target := c.capacity / defaultEvictDivisor
	if target < 1 {
		target = 1
	}
	removed := 0
	kept := c.order[:0]
	for _, key := range c.order {
		if removed < target {
			if _, ok := c.data[key]; ok {
				delete(c.data, key)
				removed++
				continue
			}
			// stale order slot for an already-deleted key
			continue
		}
		if _, ok := c.data[key]; ok {
			kept = append(kept, key)
		}
	}
	c.order = kept
	return removed
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*Entry[V], c.capacity)
	c.order = c.order[:0]
}

// Len returns the number of live entries, counting expired ones until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns a copy of the traffic counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// sweep drops expired entries and compacts the order slice.
func (c *Cache[V]) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.data {
		if now.After(entry.ExpiresAt) {
			delete(c.data, key)
		}
	}
	kept := c.order[:0]
	for _, key := range c.order {
		if _, ok := c.data[key]; ok {
			kept = append(kept, key)
		}
	}
	c.order = kept
}

// StartSweeper runs a background goroutine that periodically drops expired
// entries. It returns a stop function. Request handling never depends on the
// sweeper; expired entries are also rejected lazily on Get.
func (c *Cache[V]) StartSweeper(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
