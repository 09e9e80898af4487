package reputation

import (
	"sync"
	"time"
)

// scoreCache is a short-TTL in-memory cache for computed reputation scores.
// Scoring an agent walks its full prediction history; scores move only when
// outcomes are recorded, so a day of staleness is acceptable and explicit
// invalidation on RecordOutcome keeps the common path fresh.
//
// Key: "agent\x00domain".
type scoreCache struct {
	mu      sync.RWMutex
	entries map[string]cachedScore
	ttl     time.Duration
	done    chan struct{}
}

type cachedScore struct {
	score     float64
	expiresAt time.Time
}

// newScoreCache creates a cache with the given TTL.
// Call close to stop the background eviction goroutine.
func newScoreCache(ttl time.Duration) *scoreCache {
	c := &scoreCache{
		entries: make(map[string]cachedScore),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

func scoreKey(agent, domain string) string { return agent + "\x00" + domain }

// get returns the cached score and true if a valid entry exists.
func (c *scoreCache) get(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.score, true
}

// set stores a score with the configured TTL.
func (c *scoreCache) set(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedScore{
		score:     score,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidate drops one entry.
func (c *scoreCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// close stops the background eviction goroutine.
func (c *scoreCache) close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *scoreCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *scoreCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
