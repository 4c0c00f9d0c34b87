package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache remembers resolved projects per API key for a TTL.
//
// Expired entries are still served (stale-while-revalidate): Get reports
// NeedsRefresh to exactly one caller, which reloads the entry in the
// background while everyone else keeps using the stale project. Only the
// first request for a key ever waits on the database and bcrypt.
//
// Keys are stored as SHA-256 digests, never in clear.
type AuthCache struct {
	entries sync.Map // map[[32]byte]*cacheEntry
	ttl     time.Duration
	now     func() time.Time

	// gen advances on every project invalidation. Lookups started under an
	// older generation must not populate the cache.
	mu  sync.RWMutex
	gen uint64
}

type cacheEntry struct {
	project    *ProjectContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl, now: time.Now}
}

// GetResult holds the result of a cache lookup.
//
//   - fresh hit: Project set, Hit, !NeedsRefresh
//   - stale hit: Project set, Hit, NeedsRefresh for the first caller only
//   - miss:      zero value
type GetResult struct {
	Project      *ProjectContext
	Hit          bool
	NeedsRefresh bool
}

func cacheKey(apiKey string) [32]byte {
	return sha256.Sum256([]byte(apiKey))
}

// Get looks up the API key in the cache.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.entries.Load(cacheKey(apiKey))
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)

	if c.now().Before(entry.expiresAt) {
		return GetResult{Project: entry.project, Hit: true}
	}
	return GetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a project for the API key with a fresh TTL.
func (c *AuthCache) Set(apiKey string, project *ProjectContext) {
	c.entries.Store(cacheKey(apiKey), &cacheEntry{
		project:   project,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Generation returns the current invalidation generation.
func (c *AuthCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetIfCurrent stores project only when no invalidation happened since gen
// was read. It reports whether the entry was stored.
func (c *AuthCache) SetIfCurrent(apiKey string, project *ProjectContext, gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gen != gen {
		return false
	}
	c.Set(apiKey, project)
	return true
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(apiKey string) {
	c.entries.Delete(cacheKey(apiKey))
}

// DeleteProject removes every entry that resolves to projectID. Used after
// key rotation, mode changes and policy updates so they apply immediately.
func (c *AuthCache) DeleteProject(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries.Range(func(key, val any) bool {
		if val.(*cacheEntry).project.ProjectID == projectID {
			c.entries.Delete(key)
		}
		return true
	})
}
