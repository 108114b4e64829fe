// Package freshness provides a bounded, TTL-aware LRU cache for weather data
// keyed by grid cell.
package freshness

import (
	"container/list"
	"sync"
	"time"

	"github.com/breatheroute/weathercore/pkg/geo"
)

const (
	// DefaultTTL matches the usual provider update cadence.
	DefaultTTL = 10 * time.Minute

	// DefaultCapacity is the default number of cells kept in memory.
	DefaultCapacity = 128
)

// Observed is implemented by cached values so the cache can keep the
// observation time non-decreasing per key.
type Observed interface {
	ObservedTime() time.Time
}

// Config holds configuration for a Cache.
type Config struct {
	// Capacity is the maximum number of entries (default: 128).
	Capacity int

	// TTL is used by Put when the caller passes a zero ttl (default: 10 minutes).
	TTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Cache is a fixed-capacity LRU cache whose entries expire after a per-entry TTL.
//
// A lookup of an expired entry reports a miss and drops its value, but the key
// keeps the observation time until the slot is reused, so a later Put still
// cannot move that key back in time.
type Cache[V Observed] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time

	items   map[geo.Cell]*list.Element
	recency *list.List // front = most recently used; stale entries at the back
	live    int

	stats Stats
}

type entry[V Observed] struct {
	key        geo.Cell
	value      V
	observedAt time.Time
	insertedAt time.Time
	ttl        time.Duration

	// stale entries hold only observedAt.
	stale bool
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// Stats contains cache statistics.
type Stats struct {
	Entries     int
	Capacity    int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Rejected    int64
}

// New creates a cache.
func New[V Observed](cfg Config) *Cache[V] {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Cache[V]{
		capacity:   capacity,
		defaultTTL: ttl,
		now:        now,
		items:      make(map[geo.Cell]*list.Element, capacity),
		recency:    list.New(),
	}
}

// Get returns the value stored under key. Absent and expired entries are both
// reported as a miss.
func (c *Cache[V]) Get(key geo.Cell) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if e.stale {
		c.stats.Misses++
		return zero, false
	}
	if e.expired(c.now()) {
		c.retire(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	c.recency.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Put stores value under key for ttl (zero means the configured default).
// If the cache is full, stale entries go first, then the least recently used.
// A value observed earlier than the entry held for the same key, expired or
// not, is refused and Put returns false.
func (c *Cache[V]) Put(key geo.Cell, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if el, ok := c.items[key]; ok {
		current := el.Value.(*entry[V])
		if value.ObservedTime().Before(current.observedAt) {
			c.stats.Rejected++
			return false
		}
		// Replace rather than mutate: the old entry is dropped whole.
		c.removeElement(el)
	}

	for c.recency.Len() >= c.capacity {
		oldest := c.recency.Back()
		if oldest == nil {
			break
		}
		if !oldest.Value.(*entry[V]).stale {
			c.stats.Evictions++
		}
		c.removeElement(oldest)
	}

	c.items[key] = c.recency.PushFront(&entry[V]{
		key:        key,
		value:      value,
		observedAt: value.ObservedTime(),
		insertedAt: now,
		ttl:        ttl,
	})
	c.live++
	return true
}

// Len returns the number of entries holding a value, including expired
// entries not yet looked up.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Purge removes all entries.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[geo.Cell]*list.Element, c.capacity)
	c.recency.Init()
	c.live = 0
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.live
	s.Capacity = c.capacity
	return s
}

// retire drops an expired entry's value and keeps its observation time.
func (c *Cache[V]) retire(el *list.Element) {
	e := el.Value.(*entry[V])
	var zero V
	e.value = zero
	e.stale = true
	c.live--
	c.recency.MoveToBack(el)
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	if !e.stale {
		c.live--
	}
	delete(c.items, e.key)
	c.recency.Remove(el)
}
