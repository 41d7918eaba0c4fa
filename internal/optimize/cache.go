package optimize

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	ids     []string
	expires time.Time
}

// resultCache is a bounded LRU whose entries also expire after ttl.
// Expired entries are dropped on lookup and by Sweep.
type resultCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	// mu orders Put against Clear; generation counts Clear calls.
	mu         sync.Mutex
	generation uint64
}

func newResultCache(size int, ttl time.Duration) (*resultCache, error) {
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func (c *resultCache) Get(key string) ([]string, bool) {
	e, ok := c.entries.Get(key)
	if ok && !c.now().Before(e.expires) {
		c.entries.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return copyIDs(e.ids), true
}

// Generation identifies the cache contents between two Clear calls.
func (c *resultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *resultCache) Put(key string, ids []string) {
	c.PutIfCurrent(key, ids, c.Generation())
}

// PutIfCurrent stores ids only when no Clear happened since gen was read,
// so a result computed before a purge is never cached after it.
func (c *resultCache) PutIfCurrent(key string, ids []string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.entries.Add(key, cacheEntry{
		ids:     copyIDs(ids),
		expires: c.now().Add(c.ttl),
	})
	return true
}

// copyIDs never returns nil, so an empty result encodes as [] both times.
func copyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Sweep removes expired entries and reports how many went.
func (c *resultCache) Sweep() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !now.Before(e.expires) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

func (c *resultCache) Len() int {
	return c.entries.Len()
}
