package cache

import (
	"sync"
	"time"
)

type resultEntry struct {
	hash      string
	expiresAt time.Time
}

// ResultCache remembers the last published content hash per symbol
type ResultCache struct {
	entries map[string]resultEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
}

// NewResultCache creates a dedup cache; ttl <= 0 uses five minutes
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{
		entries: make(map[string]resultEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Matches reports whether hash equals the last fresh hash stored for symbol
func (c *ResultCache) Matches(symbol, hash string) bool {
	c.mutex.RLock()
	prev, ok := c.entries[symbol]
	c.mutex.RUnlock()
	return ok && prev.hash == hash && c.now().Before(prev.expiresAt)
}

// Store records hash as the last published content for symbol
func (c *ResultCache) Store(symbol, hash string) {
	c.mutex.Lock()
	c.entries[symbol] = resultEntry{hash: hash, expiresAt: c.now().Add(c.ttl)}
	c.mutex.Unlock()
}

// Seen reports whether symbol has a fresh entry
func (c *ResultCache) Seen(symbol string) bool {
	c.mutex.RLock()
	entry, ok := c.entries[symbol]
	c.mutex.RUnlock()
	return ok && c.now().Before(entry.expiresAt)
}

// Cleanup evicts expired hashes
func (c *ResultCache) Cleanup() int {
	now := c.now()
	removed := 0

	c.mutex.Lock()
	for symbol, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, symbol)
			removed++
		}
	}
	c.mutex.Unlock()
	return removed
}

// Len counts stored hashes
func (c *ResultCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}
