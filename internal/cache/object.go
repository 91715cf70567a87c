package cache

import (
	"context"
	"time"

	logx "janitord/pkg/logx"
)

// ObjectCache is the host-provided distributed cache collaborator.
//
// janitord does not implement this; the embedding application supplies it
// when it runs with a persistent object cache (redis, memcached, ...).
type ObjectCache interface {
	Get(ctx context.Context, group, key string) (value any, ok bool, err error)
	Set(ctx context.Context, group, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, group, key string) error
	// Incr atomically adds delta, initializing an absent key to delta with
	// the given TTL, and returns the new value.
	Incr(ctx context.Context, group, key string, delta int64, ttl time.Duration) (int64, error)
	// FlushGroup removes every key in the group. supported=false when the
	// host cache cannot flush a single group.
	FlushGroup(ctx context.Context, group string) (supported bool, err error)
}

// Object wraps the host object cache under one group namespace.
type Object struct {
	oc    ObjectCache
	group string
	log   logx.Logger
}

func NewObject(oc ObjectCache, group string, log logx.Logger) *Object {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Object{oc: oc, group: group, log: log}
}

func (c *Object) BackendType() string { return TypeObject }

func (c *Object) Lookup(ctx context.Context, key string) (any, bool) {
	v, ok, err := c.oc.Get(ctx, c.group, key)
	if err != nil {
		c.log.Debug("object cache get failed", logx.String("key", key), logx.Err(err))
		return nil, false
	}
	return v, ok
}

func (c *Object) Get(ctx context.Context, key string, def any) any {
	if v, ok := c.Lookup(ctx, key); ok {
		return v
	}
	return def
}

func (c *Object) Has(ctx context.Context, key string) bool {
	_, ok := c.Lookup(ctx, key)
	return ok
}

func (c *Object) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if err := c.oc.Set(ctx, c.group, key, value, ttl); err != nil {
		c.log.Debug("object cache set failed", logx.String("key", key), logx.Err(err))
		return false
	}
	return true
}

func (c *Object) Delete(ctx context.Context, key string) bool {
	if err := c.oc.Delete(ctx, c.group, key); err != nil {
		c.log.Debug("object cache delete failed", logx.String("key", key), logx.Err(err))
		return false
	}
	return true
}

// Clear flushes the whole group when the host supports group flush.
// A prefix-scoped clear is not supported by distributed caches: we fail
// explicitly instead of clearing a partial, surprising subset.
func (c *Object) Clear(ctx context.Context, prefix string) bool {
	if prefix != "" {
		return false
	}
	supported, err := c.oc.FlushGroup(ctx, c.group)
	if err != nil {
		c.log.Debug("object cache flush failed", logx.String("group", c.group), logx.Err(err))
		return false
	}
	return supported
}

func (c *Object) Remember(ctx context.Context, key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	return remember(ctx, c, key, ttl, producer)
}

func (c *Object) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.AddWithTTL(ctx, key, delta, 0)
}

func (c *Object) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.oc.Incr(ctx, c.group, key, -delta, 0)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		// Floor at zero; the extra Set is best-effort.
		c.Set(ctx, key, int64(0), 0)
		return 0, nil
	}
	return n, nil
}

// AddWithTTL implements AtomicCounter by delegating to the host cache's
// atomic increment.
func (c *Object) AddWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.oc.Incr(ctx, c.group, key, delta, ttl)
}

func (c *Object) GetMultiple(ctx context.Context, keys []string, def any) map[string]any {
	return getMultiple(ctx, c, keys, def)
}

func (c *Object) SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) bool {
	return setMultiple(ctx, c, values, ttl)
}

func (c *Object) DeleteMultiple(ctx context.Context, keys []string) bool {
	return deleteMultiple(ctx, c, keys)
}
