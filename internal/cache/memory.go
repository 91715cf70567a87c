package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type memEntry struct {
	value   any
	expires time.Time // zero means never
}

// Memory is the process-local backend.
//
// TTL checks go through an injectable clock so tests can step time
// deterministically. Counters are lifetime totals for diagnostics.
type Memory struct {
	mu      sync.Mutex
	prefix  string
	entries map[string]memEntry
	now     func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	writes  atomic.Uint64
	deletes atomic.Uint64
}

// MemoryStats is a snapshot of the lifetime counters.
type MemoryStats struct {
	Hits    uint64
	Misses  uint64
	Writes  uint64
	Deletes uint64
	Entries int
}

func NewMemory(prefix string) *Memory {
	return &Memory{
		prefix:  prefix,
		entries: map[string]memEntry{},
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook; not safe to call while the
// cache is in concurrent use.
func (c *Memory) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Memory) BackendType() string { return TypeMemory }

func (c *Memory) Stats() MemoryStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return MemoryStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Writes:  c.writes.Load(),
		Deletes: c.deletes.Load(),
		Entries: n,
	}
}

func (c *Memory) key(k string) string { return c.prefix + k }

func (c *Memory) Lookup(ctx context.Context, key string) (any, bool) {
	_ = ctx
	c.mu.Lock()
	v, ok := c.lookupLocked(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Memory) lookupLocked(key string) (any, bool) {
	e, ok := c.entries[c.key(key)]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, c.key(key))
		return nil, false
	}
	return e.value, true
}

func (c *Memory) Get(ctx context.Context, key string, def any) any {
	if v, ok := c.Lookup(ctx, key); ok {
		return v
	}
	return def
}

func (c *Memory) Has(ctx context.Context, key string) bool {
	_, ok := c.Lookup(ctx, key)
	return ok
}

func (c *Memory) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	_ = ctx
	c.mu.Lock()
	c.setLocked(key, value, ttl)
	c.mu.Unlock()
	c.writes.Add(1)
	return true
}

func (c *Memory) setLocked(key string, value any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[c.key(key)] = memEntry{value: value, expires: exp}
}

func (c *Memory) Delete(ctx context.Context, key string) bool {
	_ = ctx
	c.mu.Lock()
	_, existed := c.entries[c.key(key)]
	delete(c.entries, c.key(key))
	c.mu.Unlock()
	if existed {
		c.deletes.Add(1)
	}
	return existed
}

func (c *Memory) Clear(ctx context.Context, prefix string) bool {
	_ = ctx
	full := c.key(prefix)
	c.mu.Lock()
	for k := range c.entries {
		if prefix == "" || strings.HasPrefix(k, full) {
			delete(c.entries, k)
			c.deletes.Add(1)
		}
	}
	c.mu.Unlock()
	return true
}

func (c *Memory) Remember(ctx context.Context, key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	return remember(ctx, c, key, ttl, producer)
}

func (c *Memory) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.AddWithTTL(ctx, key, delta, 0)
}

func (c *Memory) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.lookupLocked(key)
	if !ok {
		c.setLocked(key, int64(0), 0)
		return 0, nil
	}
	n, numeric := asInt64(cur)
	if !numeric {
		return 0, ErrNotNumeric
	}
	n -= delta
	if n < 0 {
		n = 0
	}
	c.setLocked(key, n, c.remainingTTLLocked(key))
	return n, nil
}

// AddWithTTL implements AtomicCounter: the whole read-add-write runs under
// the cache mutex.
func (c *Memory) AddWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.lookupLocked(key)
	if !ok {
		c.setLocked(key, delta, ttl)
		return delta, nil
	}
	n, numeric := asInt64(cur)
	if !numeric {
		return 0, ErrNotNumeric
	}
	n += delta
	c.setLocked(key, n, c.remainingTTLLocked(key))
	return n, nil
}

// remainingTTLLocked preserves an entry's expiry across counter rewrites.
func (c *Memory) remainingTTLLocked(key string) time.Duration {
	e, ok := c.entries[c.key(key)]
	if !ok || e.expires.IsZero() {
		return 0
	}
	d := e.expires.Sub(c.now())
	if d <= 0 {
		// Keep a minimal TTL so the entry still expires promptly.
		return time.Nanosecond
	}
	return d
}

func (c *Memory) GetMultiple(ctx context.Context, keys []string, def any) map[string]any {
	return getMultiple(ctx, c, keys, def)
}

func (c *Memory) SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) bool {
	return setMultiple(ctx, c, values, ttl)
}

func (c *Memory) DeleteMultiple(ctx context.Context, keys []string) bool {
	return deleteMultiple(ctx, c, keys)
}
