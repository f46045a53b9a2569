// internal/storage/record_cache.go
package storage

import (
	"sort"
	"sync"
	"time"
)

// RecordCache is a small in-memory cache with expiry and least-recently-read eviction.
type RecordCache[V any] struct {
	cache      map[string]*cacheEntry[V]
	mutex      sync.Mutex
	maxSize    int
	expiration time.Duration
	now        func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	createdAt time.Time
	lastRead  time.Time
}

// NewRecordCache creates a cache; non-positive arguments use 1000 entries and 5 minutes.
func NewRecordCache[V any](maxSize int, expiration time.Duration) *RecordCache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &RecordCache[V]{
		cache:      make(map[string]*cacheEntry[V]),
		maxSize:    maxSize,
		expiration: expiration,
		now:        time.Now,
	}
}

// Get returns a live entry. Expired entries are dropped on access.
func (c *RecordCache[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	entry, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	now := c.now()
	if now.Sub(entry.createdAt) > c.expiration {
		delete(c.cache, key)
		return zero, false
	}
	entry.lastRead = now
	return entry.value, true
}

// Set stores value, evicting the least recently read fifth when the cache is full.
func (c *RecordCache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.cache[key] = &cacheEntry[V]{value: value, createdAt: now, lastRead: now}
	if len(c.cache) > c.maxSize {
		c.cleanupLRU(max(1, c.maxSize/5))
	}
}

func (c *RecordCache[V]) Delete(key string) {
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
}

func (c *RecordCache[V]) Clear() {
	c.mutex.Lock()
	c.cache = make(map[string]*cacheEntry[V])
	c.mutex.Unlock()
}

func (c *RecordCache[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache)
}

func (c *RecordCache[V]) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.lastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}
