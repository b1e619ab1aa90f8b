// Package cache keeps recently verified key records in memory.
package cache

import (
	"container/list"
	"sync"
	"time"

	"keygate.backend/internal/domain/entities"
)

const (
	DefaultMaxSize = 1000
	DefaultTTL     = 5 * time.Minute
)

// Recorder receives cache events. *metrics.Metrics satisfies it.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
	SetCacheSize(n int)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()        {}
func (nopRecorder) CacheMiss()       {}
func (nopRecorder) CacheEviction()   {}
func (nopRecorder) SetCacheSize(int) {}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Size       int           `json:"size"`
	MaxSize    int           `json:"maxSize"`
	TTL        time.Duration `json:"ttl"`
	TTLSeconds float64       `json:"ttlSeconds"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Evictions  int64         `json:"evictions"`
}

type entry struct {
	key        string
	value      *entities.ApiKey
	insertedAt time.Time
}

// KeyCache is a bounded TTL cache of key records indexed by lookup prefix.
// Eviction order is insertion order; reads do not promote entries.
type KeyCache struct {
	maxSize  int
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder

	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List
	hits      int64
	misses    int64
	evictions int64
}

type Option func(*KeyCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *KeyCache) { c.now = now }
}

// WithRecorder reports hits, misses and evictions.
func WithRecorder(r Recorder) Option {
	return func(c *KeyCache) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewKeyCache creates a cache holding at most maxSize entries for ttl.
func NewKeyCache(maxSize int, ttl time.Duration, opts ...Option) *KeyCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &KeyCache{
		maxSize:  maxSize,
		ttl:      ttl,
		now:      time.Now,
		recorder: nopRecorder{},
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached record. Entries older than the TTL are
// dropped and reported as a miss.
func (c *KeyCache) Get(key string) (*entities.ApiKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		c.recorder.CacheMiss()
		return nil, false
	}

	e := elem.Value.(*entry)
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.removeElement(elem)
		c.misses++
		c.recorder.CacheMiss()
		return nil, false
	}

	c.hits++
	c.recorder.CacheHit()
	return e.value.Clone(), true
}

// Set stores a copy of value. A new key at capacity evicts the oldest
// insertion; an existing key is refreshed.
func (c *KeyCache) Set(key string, value *entities.ApiKey) {
	if value == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value.Clone()
		e.insertedAt = now
		c.order.MoveToBack(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = c.order.PushBack(&entry{key: key, value: value.Clone(), insertedAt: now})
	c.recorder.SetCacheSize(c.order.Len())
}

// Invalidate removes key if present.
func (c *KeyCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every entry. Counters are kept.
func (c *KeyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.recorder.SetCacheSize(0)
}

func (c *KeyCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:       c.order.Len(),
		MaxSize:    c.maxSize,
		TTL:        c.ttl,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// evictOldest must be called with mu held.
func (c *KeyCache) evictOldest() {
	elem := c.order.Front()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.evictions++
	c.recorder.CacheEviction()
}

// removeElement must be called with mu held.
func (c *KeyCache) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(elem)
	c.recorder.SetCacheSize(c.order.Len())
}
