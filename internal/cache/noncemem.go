package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceCache is a process-local nonce cache for development and
// single-instance deployments. Entries are swept lazily on access and
// by a periodic cleanup, bounding memory to the replay window's worth
// of nonces.
type MemoryNonceCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
}

func NewMemoryNonceCache() *MemoryNonceCache {
	c := &MemoryNonceCache{
		entries: make(map[string]time.Time),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	go c.cleanupLoop()
	return c
}

// SeenOrRemember reports whether (clientID, nonce) was already recorded
// within its TTL and records it if not.
func (c *MemoryNonceCache) SeenOrRemember(ctx context.Context, clientID, nonce string, ttl time.Duration) (bool, error) {
	key := clientID + ":" + nonce
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.entries[key]; ok && now.Before(expiry) {
		return true, nil
	}
	c.entries[key] = now.Add(ttl)
	return false, nil
}

func (c *MemoryNonceCache) cleanupLoop() {
	for {
		time.Sleep(5 * time.Minute)
		now := c.clock()
		c.mu.Lock()
		for k, expiry := range c.entries {
			if now.After(expiry) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}
