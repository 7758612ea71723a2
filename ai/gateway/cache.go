package gateway

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultCacheEntries bounds the response cache
	DefaultCacheEntries = 50
	// DefaultCacheTTL is how long a cached response stays retrievable
	DefaultCacheTTL = 10 * time.Minute
)

// EvictFunc is called (outside the lock) each time an entry is pushed out by the bound
type EvictFunc func(key string)

// Cache is a bounded response cache with a per-entry TTL.
//
// Eviction is FIFO by first insertion, not LRU: reads do not reorder entries
// and re-inserting an existing key replaces the value and refreshes its expiry
// in place. Safe for concurrent use; concurrent writes to one key are last-write-wins.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = oldest
	items    map[string]*list.Element
	now      func() time.Time
	onEvict  EvictFunc
}

type cacheEntry struct {
	key       string
	value     *Response
	expiresAt time.Time
}

// NewCache creates a cache. Non-positive arguments fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// WithClock replaces the cache clock (tests)
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// OnEvict registers a callback for bound evictions. Expired entries are dropped silently.
func (c *Cache) OnEvict(fn EvictFunc) *Cache {
	c.onEvict = fn
	return c
}

// Get returns the live value for key
func (c *Cache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

// Put stores value under key, evicting the oldest entries past capacity
func (c *Cache) Put(key string, value *Response) {
	var evicted []string

	c.mu.Lock()
	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.mu.Unlock()
		return
	}

	c.items[key] = c.order.PushBack(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.items, entry.key)
		evicted = append(evicted, entry.key)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, key := range evicted {
			onEvict(key)
		}
	}
}

// Remove drops key if present
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of stored entries, including ones that expired but were not yet read
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity is the configured entry bound
func (c *Cache) Capacity() int {
	return c.capacity
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}
