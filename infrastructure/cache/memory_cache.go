// Package cache provides the latency-masking cache in front of the remote
// store: read-through lookups for lists and detail views, plus optimistic
// local mutation while a remote write is in flight.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Region namespaces cache entries. Each region carries its own TTL: list
// regions live longer, active message lists expire quickly.
type Region string

const (
	RegionThreadLists  Region = "thread-lists"
	RegionMessageLists Region = "message-lists"
	RegionThreadDetail Region = "thread-detail"
	RegionCollections  Region = "collections"
)

// Clock supplies the current time. Injected so tests can drive expiry
// deterministically.
type Clock func() time.Time

// Config bounds the cache and sets per-region TTLs. Regions without an
// explicit TTL use DefaultTTL.
type Config struct {
	TTLs       map[Region]time.Duration
	DefaultTTL time.Duration
	MaxEntries int
}

// MemoryCache is a process-local, region-namespaced cache with TTL and LRU
// eviction. It is never persisted; the remote store stays authoritative.
// All methods are safe for concurrent use.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lruList    *list.List
	ttls       map[Region]time.Duration
	defaultTTL time.Duration
	maxEntries int
	clock      Clock

	hits   int64
	misses int64

	logger *zap.Logger
}

type entry struct {
	key        string
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
	lruElement *list.Element
}

// NewMemoryCache creates a cache with the given bounds and clock. A nil
// clock means time.Now.
func NewMemoryCache(cfg Config, clock Clock, logger *zap.Logger) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 2048
	}

	return &MemoryCache{
		entries:    make(map[string]*entry),
		lruList:    list.New(),
		ttls:       cfg.TTLs,
		defaultTTL: cfg.DefaultTTL,
		maxEntries: cfg.MaxEntries,
		clock:      clock,
		logger:     logger,
	}
}

// Get returns the cached value for (region, key) if present and younger
// than the region's TTL.
func (c *MemoryCache) Get(region Region, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[compoundKey(region, key)]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.clock().After(e.insertedAt.Add(e.ttl)) {
		c.removeEntry(e)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(e.lruElement)
	c.hits++
	return e.value, true
}

// Set stores a value with the current timestamp, overwriting any existing
// entry unconditionally.
func (c *MemoryCache) Set(region Region, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := compoundKey(region, key)
	if existing, ok := c.entries[ck]; ok {
		c.removeEntry(existing)
	}

	for len(c.entries) >= c.maxEntries && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		c.removeEntry(oldest.Value.(*entry))
	}

	e := &entry{
		key:        ck,
		value:      value,
		insertedAt: c.clock(),
		ttl:        c.ttlFor(region),
	}
	e.lruElement = c.lruList.PushFront(e)
	c.entries[ck] = e
}

// ApplyOptimistic mutates an existing cached value in place, before the
// corresponding remote write confirms. It reports whether an entry was
// actually mutated; when it returns false the caller should force a
// read-through before depending on the optimistic state. A missing or
// expired entry is never force-populated.
func (c *MemoryCache) ApplyOptimistic(region Region, key string, mutate func(value interface{}) interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[compoundKey(region, key)]
	if !ok {
		return false
	}
	if c.clock().After(e.insertedAt.Add(e.ttl)) {
		c.removeEntry(e)
		return false
	}

	e.value = mutate(e.value)
	c.lruList.MoveToFront(e.lruElement)
	return true
}

// Invalidate drops one entry. Used after a confirmed write, so the next
// read repopulates from the authoritative store, and after a failed write,
// so an optimistic entry is never served as durable.
func (c *MemoryCache) Invalidate(region Region, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[compoundKey(region, key)]; ok {
		c.removeEntry(e)
	}
}

// InvalidateRegion drops every entry in a region.
func (c *MemoryCache) InvalidateRegion(region Region) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := string(region) + "\x00"
	for key, e := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.removeEntry(e)
		}
	}
}

// InvalidateAll drops everything.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lruList.Init()
}

// Stats reports hit/miss counters and the current entry count.
func (c *MemoryCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// removeEntry removes an entry (must be called with the lock held).
func (c *MemoryCache) removeEntry(e *entry) {
	if e.lruElement != nil {
		c.lruList.Remove(e.lruElement)
	}
	delete(c.entries, e.key)
}

func (c *MemoryCache) ttlFor(region Region) time.Duration {
	if ttl, ok := c.ttls[region]; ok && ttl > 0 {
		return ttl
	}
	return c.defaultTTL
}

func compoundKey(region Region, key string) string {
	return string(region) + "\x00" + key
}
