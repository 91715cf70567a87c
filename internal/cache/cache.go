package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotNumeric is returned by Increment/Decrement when the stored value
// cannot be treated as a counter.
var ErrNotNumeric = errors.New("cache: stored value is not numeric")

// Backend type names as reported by BackendType().
const (
	TypeNone      = "none"
	TypeObject    = "object"
	TypeTransient = "transient"
	TypeMemory    = "memory"
	TypeNull      = "null"
	TypeUnknown   = "unknown"
)

// Cache is the uniform contract implemented by every backend.
//
// Get returns def when the key is absent; a stored false/nil is returned
// as-is, so callers that need to tell the two apart use Lookup or Has.
// Clear("") flushes the whole namespace; a non-empty prefix clears only
// matching keys (backends that cannot do this safely return false rather
// than clearing a surprising subset).
type Cache interface {
	Get(ctx context.Context, key string, def any) any
	Lookup(ctx context.Context, key string) (value any, ok bool)
	Has(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context, prefix string) bool

	// Remember returns the cached value, or computes it via producer and
	// stores it. A producer error is propagated and nothing is stored.
	Remember(ctx context.Context, key string, ttl time.Duration, producer func() (any, error)) (any, error)

	// Increment/Decrement adjust a numeric value, initializing an absent key
	// to the delta (Increment) or zero (Decrement). Decrement floors at zero.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Decrement(ctx context.Context, key string, delta int64) (int64, error)

	GetMultiple(ctx context.Context, keys []string, def any) map[string]any
	SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) bool
	DeleteMultiple(ctx context.Context, keys []string) bool

	BackendType() string
}

// AtomicCounter is implemented by backends whose counter mutation is atomic
// (serialized by the backend itself, not by the caller). The rate limiter
// probes for it; backends without it force the lock-based fallback.
type AtomicCounter interface {
	// AddWithTTL atomically adds delta to key, initializing an absent key to
	// delta with the given TTL, and returns the new value.
	AddWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// remember is the shared compute-and-store path used by all backends.
func remember(ctx context.Context, c Cache, key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	if v, ok := c.Lookup(ctx, key); ok {
		return v, nil
	}
	v, err := producer()
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}

func getMultiple(ctx context.Context, c Cache, keys []string, def any) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = c.Get(ctx, k, def)
	}
	return out
}

func setMultiple(ctx context.Context, c Cache, values map[string]any, ttl time.Duration) bool {
	ok := true
	for k, v := range values {
		if !c.Set(ctx, k, v, ttl) {
			ok = false
		}
	}
	return ok
}

func deleteMultiple(ctx context.Context, c Cache, keys []string) bool {
	ok := true
	for _, k := range keys {
		if !c.Delete(ctx, k) {
			ok = false
		}
	}
	return ok
}

// asInt64 widens a stored numeric value for counter arithmetic.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
