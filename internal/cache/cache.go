// Package cache holds recent resolution results keyed by normalized
// identity. Merge events invalidate both sides through the secondary
// entity index, so a stale canonical id never outlives a merge.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config bounds the cache.
type Config struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig matches a mid-size resolution service.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    10_000,
		TTL:           5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// ResolutionCache is the read path's cache contract. The no-op
// implementation disables caching without branching at call sites.
type ResolutionCache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, entityID uuid.UUID, value V)
	InvalidateEntity(entityID uuid.UUID)
	Stats() Stats
	Close()
}

type entry[V any] struct {
	value     V
	entityID  uuid.UUID
	expiresAt time.Time
}

// TTLCache is the bounded TTL implementation. A secondary index maps entity
// id to the keys whose cached result resolves to it; merge notifications
// invalidate through it. Expired entries are reaped by a background sweep
// and dropped lazily on read.
type TTLCache[V any] struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]entry[V]
	byID    map[uuid.UUID]map[string]struct{}

	hits      int64
	misses    int64
	evictions int64

	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates the cache and starts its eviction sweep.
func New[V any](cfg Config) *TTLCache[V] {
	c := &TTLCache[V]{
		cfg:     cfg,
		entries: make(map[string]entry[V]),
		byID:    make(map[uuid.UUID]map[string]struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if cfg.SweepInterval > 0 {
		go c.sweepLoop()
	}
	return c
}

// Get returns the cached value if present and unexpired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(key, e)
		c.evictions++
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Put stores a value under the identity key, tracking which entity it
// resolves to. At capacity the entry closest to expiry is evicted.
func (c *TTLCache[V]) Put(key string, entityID uuid.UUID, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	} else if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{value: value, entityID: entityID, expiresAt: c.now().Add(c.cfg.TTL)}
	keys, ok := c.byID[entityID]
	if !ok {
		keys = make(map[string]struct{})
		c.byID[entityID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateEntity drops every entry whose result maps to the entity.
// Merge listeners call this for both the source and the target.
func (c *TTLCache[V]) InvalidateEntity(entityID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byID[entityID] {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(key, e)
			c.evictions++
		}
	}
	delete(c.byID, entityID)
}

// Stats returns a snapshot of the counters.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.entries)}
}

// Close stops the background sweep.
func (c *TTLCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

// removeLocked drops an entry and prunes the secondary index.
func (c *TTLCache[V]) removeLocked(key string, e entry[V]) {
	delete(c.entries, key)
	if keys, ok := c.byID[e.entityID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byID, e.entityID)
		}
	}
}

// evictOldestLocked removes the entry closest to expiry.
func (c *TTLCache[V]) evictOldestLocked() {
	var oldestKey string
	var oldest entry[V]
	first := true
	for k, e := range c.entries {
		if first || e.expiresAt.Before(oldest.expiresAt) {
			oldestKey, oldest = k, e
			first = false
		}
	}
	if !first {
		c.removeLocked(oldestKey, oldest)
		c.evictions++
	}
}

func (c *TTLCache[V]) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *TTLCache[V]) sweepExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(k, e)
			c.evictions++
		}
	}
}

// Noop disables caching; every lookup misses and writes vanish.
type Noop[V any] struct{}

func (Noop[V]) Get(key string) (V, bool)                    { var zero V; return zero, false }
func (Noop[V]) Put(key string, entityID uuid.UUID, value V) {}
func (Noop[V]) InvalidateEntity(entityID uuid.UUID)         {}
func (Noop[V]) Stats() Stats                                { return Stats{} }
func (Noop[V]) Close()                                      {}
