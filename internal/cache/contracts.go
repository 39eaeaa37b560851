package cache

import (
	"sync"
	"time"

	"github.com/sawpanic/spreadrun/internal/models"
)

// DefaultContractTTL bounds how long a chain snapshot is served
const DefaultContractTTL = 5 * time.Minute

type contractEntry struct {
	contracts []models.OptionContract
	expiresAt time.Time
}

// ContractCache holds option chain snapshots per symbol with a TTL.
// Expired entries are treated as misses and never returned.
type ContractCache struct {
	entries map[string]contractEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
}

// NewContractCache creates a contract cache; ttl <= 0 uses the default
func NewContractCache(ttl time.Duration) *ContractCache {
	if ttl <= 0 {
		ttl = DefaultContractTTL
	}
	return &ContractCache{
		entries: make(map[string]contractEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached chain for symbol if present and fresh
func (c *ContractCache) Get(symbol string) ([]models.OptionContract, bool) {
	c.mutex.RLock()
	entry, ok := c.entries[symbol]
	c.mutex.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}

	out := make([]models.OptionContract, len(entry.contracts))
	copy(out, entry.contracts)
	return out, true
}

// Set replaces the chain for symbol
func (c *ContractCache) Set(symbol string, contracts []models.OptionContract) {
	snapshot := make([]models.OptionContract, len(contracts))
	copy(snapshot, contracts)

	c.mutex.Lock()
	c.entries[symbol] = contractEntry{
		contracts: snapshot,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mutex.Unlock()
}

// Invalidate drops a symbol's chain
func (c *ContractCache) Invalidate(symbol string) {
	c.mutex.Lock()
	delete(c.entries, symbol)
	c.mutex.Unlock()
}

// Cleanup evicts expired entries and returns how many were removed
func (c *ContractCache) Cleanup() int {
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

// Len counts stored entries, including expired ones not yet cleaned up
func (c *ContractCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// TTL returns the configured entry lifetime
func (c *ContractCache) TTL() time.Duration {
	return c.ttl
}
