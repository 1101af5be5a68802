package relay

import (
	"sync"
	"time"
)

// DedupCache is a bounded record of recently forwarded event ids. Long-poll
// retries after transient timeouts can return overlapping activity windows;
// this cache is the correctness backstop against double delivery.
//
// Entries are evicted least-recently-inserted first, once the cache exceeds
// its size bound or an entry outlives the ttl. A repeat sighting does not
// refresh an entry's position.
type DedupCache struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	seen  map[string]time.Time
	order []dedupEntry
}

type dedupEntry struct {
	id string
	at time.Time
}

// NewDedupCache builds a cache bounded by size entries and ttl age.
// Non-positive bounds fall back to defaults.
func NewDedupCache(size int, ttl time.Duration) *DedupCache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &DedupCache{
		size: size,
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time, size),
	}
}

// FilterNew reports true the first time an id is seen within the retention
// window and false on every subsequent sighting.
func (c *DedupCache) FilterNew(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evict(now)

	if _, dup := c.seen[id]; dup {
		return false
	}
	c.seen[id] = now
	c.order = append(c.order, dedupEntry{id: id, at: now})
	c.evict(now)
	return true
}

// Len returns the number of retained entries.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(c.now())
	return len(c.seen)
}

// evict drops expired entries and trims to the size bound, oldest first.
// Caller must hold c.mu.
func (c *DedupCache) evict(now time.Time) {
	cutoff := now.Add(-c.ttl)
	i := 0
	for ; i < len(c.order); i++ {
		e := c.order[i]
		if e.at.After(cutoff) && len(c.order)-i <= c.size {
			break
		}
		delete(c.seen, e.id)
	}
	if i > 0 {
		c.order = append(c.order[:0], c.order[i:]...)
	}
}
