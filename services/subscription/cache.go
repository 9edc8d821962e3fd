package subscription

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/upb/activity-sync/models"
)

// CacheKey normalizes an email into a cache key
func CacheKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type cacheEntry struct {
	key       string
	snapshot  models.SubscriptionSnapshot
	expiresAt time.Time
	element   *list.Element
}

// Cache is an in-memory LRU cache with per-entry TTL for subscription
// snapshots, keyed by email.
//
// Every Set and Invalidate advances a generation counter. A read-through
// fill started before such a write carries the older generation and is
// dropped, so a slow tier resolution can never overwrite a newer state.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	lruList    *list.List
	maxSize    int
	ttl        time.Duration
	generation uint64
	hits       uint64
	misses     uint64
	staleFills uint64
	now        func() time.Time
}

// NewCache creates a new Cache with the given capacity and default TTL
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached snapshot for email
func (c *Cache) Get(email string) (models.SubscriptionSnapshot, bool) {
	snapshot, ok, _ := c.Lookup(email)
	return snapshot, ok
}

// Lookup returns the cached snapshot and, on a miss, the generation a
// subsequent Fill must present.
func (c *Cache) Lookup(email string) (models.SubscriptionSnapshot, bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := CacheKey(email)
	entry, exists := c.entries[key]
	if !exists || !c.now().Before(entry.expiresAt) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return models.SubscriptionSnapshot{}, false, c.generation
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.snapshot, true, c.generation
}

// Fill stores a resolved snapshot with the default TTL unless a Set or
// Invalidate happened since the Lookup that returned generation.
func (c *Cache) Fill(email string, snapshot models.SubscriptionSnapshot, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.staleFills++
		return false
	}
	c.store(CacheKey(email), snapshot, c.ttl)
	return true
}

// Set stores a snapshot that reflects a confirmed state change. A
// non-positive ttl uses the default.
func (c *Cache) Set(email string, snapshot models.SubscriptionSnapshot, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	c.generation++
	c.store(CacheKey(email), snapshot, ttl)
}

// Invalidate removes the entry for email
func (c *Cache) Invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.removeEntry(CacheKey(email))
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"maxSize"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	StaleFills uint64  `json:"staleFills"`
	HitRate    float64 `json:"hitRate"`
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:       c.lruList.Len(),
		MaxSize:    c.maxSize,
		Hits:       c.hits,
		Misses:     c.misses,
		StaleFills: c.staleFills,
		HitRate:    hitRate,
	}
}

// store must be called with the lock held
func (c *Cache) store(key string, snapshot models.SubscriptionSnapshot, ttl time.Duration) {
	expiresAt := c.now().Add(ttl)

	if entry, exists := c.entries[key]; exists {
		entry.snapshot = snapshot
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: key, snapshot: snapshot, expiresAt: expiresAt}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// removeEntry must be called with the lock held
func (c *Cache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU must be called with the lock held
func (c *Cache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically removes expired entries until stopCh is closed
func (c *Cache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
