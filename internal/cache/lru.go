// Package cache provides result caches for Kestrel analyses.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used standalone and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value from cache. A miss returns nil, nil.
func (c *LRUCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	fullKey := makeKey(namespace, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	fullKey := makeKey(namespace, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = c.now().Add(ttl)
		return nil
	}

	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	c.items[fullKey] = c.order.PushFront(entry)

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	fullKey := makeKey(namespace, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Purge removes every entry in namespace.
func (c *LRUCache) Purge(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	prefix := makeKey(namespace, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, elem := range c.items {
		if strings.HasPrefix(k, prefix) {
			c.removeElement(elem)
		}
	}
	return nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func makeKey(namespace, key string) string {
	return namespace + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
