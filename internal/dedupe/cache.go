// ABOUTME: TTL cache mapping idempotency keys to previously persisted messages
// ABOUTME: A replayed REST send returns the original message instead of a duplicate

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/parley-gateway/internal/store"
)

type cacheEntry struct {
	key       string
	message   *store.Message
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited cache keyed by client
// idempotency keys. Each entry remembers the message that a send produced, so
// a retried request can be answered with the original result. Insertion order
// is tracked in a doubly-linked list for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum entry count.
// A background goroutine periodically removes expired entries.
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

// Lookup returns the message previously recorded for the key, or nil if the
// key is unknown or expired.
func (c *Cache) Lookup(key string) *store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil
	}
	return entry.message
}

// Record stores the message produced for a key. Re-recording an existing key
// replaces the message and refreshes its TTL. At capacity the oldest entry is
// evicted.
func (c *Cache) Record(key string, msg *store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.message = msg
		entry.timestamp = time.Now()
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       key,
		message:   msg,
		timestamp: time.Now(),
	}
	entry.element = c.order.PushBack(key)
	c.entries[key] = entry
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

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

// runCleanup removes all expired entries.
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

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
