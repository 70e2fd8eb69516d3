package daemon

import "sync"

// LockPathCacheSize is the fixed slot count named in spec.md §3.
const LockPathCacheSize = 32

type lockPathEntry struct {
	lock uint32
	path string
}

// LockPathCache remembers the path a Lock/CreateDir-like call returned a
// directory lock for, so a later CurrentDir-like call that receives the
// same opaque lock value can render it as a path instead of a hex address
// (spec.md §3, §4.7). It is a 32-slot FIFO: the oldest entry is evicted
// when a new one arrives and the cache is full. Cleared at every TRACE RUN
// session start because the host can recycle lock addresses across runs
// (spec.md §4.9 step 3).
type LockPathCache struct {
	mu      sync.Mutex
	entries []lockPathEntry
}

// NewLockPathCache returns an empty cache.
func NewLockPathCache() *LockPathCache {
	return &LockPathCache{entries: make([]lockPathEntry, 0, LockPathCacheSize)}
}

// Put records that lock currently resolves to path, evicting the oldest
// entry if the cache is full. A lock value already present is updated and
// moved to the front rather than duplicated.
func (c *LockPathCache) Put(lock uint32, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.lock == lock {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	if len(c.entries) >= LockPathCacheSize {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, lockPathEntry{lock: lock, path: path})
}

// Lookup returns the path associated with lock, if known.
func (c *LockPathCache) Lookup(lock uint32) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.lock == lock {
			return e.path, true
		}
	}
	return "", false
}

// Clear empties the cache. Called at every TRACE RUN session start.
func (c *LockPathCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = c.entries[:0]
}
