package cache

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// TTLCache is a bounded key/value store with per-entry expiry.
//
// Reads are lock-free: entries live in a sync.Map and are immutable once published, so a
// Get never waits on a writer. Writers serialize on mu, which also guards the expiry
// min-heap used for eviction. When the cache is full and a new key arrives, the entry with
// the earliest expiresAt is evicted. Expired entries are never returned; they are
// removed lazily by writers and by Stats.
type TTLCache[T any] struct {
	entries    sync.Map // string -> *entry[T]
	mu         sync.Mutex
	byExpiry   expiryHeap[T]
	maxSize    int
	defaultTTL time.Duration
	clone      func(T) T
	now        func() time.Time
	onEvict    func(key string, reason EvictReason)
}

// EvictReason says why an entry left the cache.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictExpired  EvictReason = "expired"
)

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
	index     int // heap position; touched only under mu
}

// Option configures a TTLCache.
type Option[T any] func(*TTLCache[T])

// WithClone copies values on the way in and on the way out so callers never alias cached state.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(c *TTLCache[T]) { c.clone = clone }
}

// WithClock replaces time.Now. Used by tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *TTLCache[T]) { c.now = now }
}

// WithEvictHook is called under the write lock for every removed entry. It must not call back into the cache.
func WithEvictHook[T any](fn func(key string, reason EvictReason)) Option[T] {
	return func(c *TTLCache[T]) { c.onEvict = fn }
}

// NewTTLCache creates a cache holding at most maxSize entries. defaultTTL applies when Set gets ttl <= 0.
func NewTTLCache[T any](maxSize int, defaultTTL time.Duration, opts ...Option[T]) *TTLCache[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &TTLCache[T]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := v.(*entry[T])
	if !c.now().Before(e.expiresAt) {
		return zero, false
	}
	if c.clone != nil {
		return c.clone(e.value), true
	}
	return e.value, true
}

// Set inserts or overwrites key. A new key on a full cache first evicts the earliest-expiring entry.
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if c.clone != nil {
		value = c.clone(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &entry[T]{key: key, value: value, expiresAt: now.Add(ttl)}

	if old, ok := c.entries.Load(key); ok {
		prev := old.(*entry[T])
		e.index = prev.index
		c.byExpiry[e.index] = e
		heap.Fix(&c.byExpiry, e.index)
		c.entries.Store(key, e)
		return
	}

	c.purgeExpiredLocked(now)
	for len(c.byExpiry) >= c.maxSize {
		victim := heap.Pop(&c.byExpiry).(*entry[T])
		c.entries.Delete(victim.key)
		if c.onEvict != nil {
			c.onEvict(victim.key, EvictCapacity)
		}
	}
	heap.Push(&c.byExpiry, e)
	c.entries.Store(key, e)
}

// Delete removes key if present.
func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*entry[T])
	heap.Remove(&c.byExpiry, e.index)
	c.entries.Delete(key)
}

// Clear drops every entry.
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byExpiry {
		c.entries.Delete(e.key)
	}
	c.byExpiry = nil
}

// Len returns the number of unexpired entries.
func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked(c.now())
	return len(c.byExpiry)
}

// Stats returns occupancy, recomputed on each call.
func (c *TTLCache[T]) Stats() models.CacheStats {
	return models.CacheStats{
		CurrentSize: c.Len(),
		MaxSize:     c.maxSize,
		TTLSeconds:  int(c.defaultTTL / time.Second),
	}
}

// purgeExpiredLocked pops entries off the heap while the earliest one has expired.
func (c *TTLCache[T]) purgeExpiredLocked(now time.Time) {
	for len(c.byExpiry) > 0 && !now.Before(c.byExpiry[0].expiresAt) {
		e := heap.Pop(&c.byExpiry).(*entry[T])
		c.entries.Delete(e.key)
		if c.onEvict != nil {
			c.onEvict(e.key, EvictExpired)
		}
	}
}

// expiryHeap is a min-heap of entries ordered by expiresAt.
type expiryHeap[T any] []*entry[T]

func (h expiryHeap[T]) Len() int           { return len(h) }
func (h expiryHeap[T]) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expiryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
