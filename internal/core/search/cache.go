package search

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/models"
)

// Cache is a concurrent TTL cache for fused result sets. Expired entries
// are dropped lazily on read and by a periodic sweep. It has explicit
// lifecycle: construct at service start, inject where needed, Stop on
// shutdown.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	results []models.SearchResult
	expires time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweep(ttl)
	return c
}

// Get returns a copy of the cached result set, or false when the key is
// missing or past its TTL.
func (c *Cache) Get(key string) ([]models.SearchResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	out := make([]models.SearchResult, len(e.results))
	copy(out, e.results)
	return out, true
}

// Set stores a fused result set under the key for one TTL period.
func (c *Cache) Set(key string, results []models.SearchResult) {
	stored := make([]models.SearchResult, len(results))
	copy(stored, results)

	c.mu.Lock()
	c.entries[key] = cacheEntry{results: stored, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len reports the live entry count, counting out expired-but-unswept rows.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !c.now().After(e.expires) {
			n++
		}
	}
	return n
}

// Stop terminates the sweep goroutine.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expires) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// CacheKey builds the normalized lookup key from query, filters and mode.
// Whitespace and case differences in the query, and filter ordering, do not
// produce distinct entries.
func CacheKey(query string, filter core.SearchFilter, mode Mode) string {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	ids := make([]string, len(filter.DocumentIDs))
	copy(ids, filter.DocumentIDs)
	sort.Strings(ids)

	return q + "|" + strings.Join(ids, ",") + "|" + string(mode)
}
