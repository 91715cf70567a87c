package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// Storage key layout: one value entry plus one paired expiry entry.
const (
	transientKeyPrefix     = "transient_"
	transientTimeoutPrefix = "transient_timeout_"

	// maxStoreKeyLen is the longest key the durable store is assumed to
	// accept. Longer keys are truncated and suffixed with a content hash.
	maxStoreKeyLen = 191
)

// envelope wraps stored values so a cached false/nil is never confused with
// an absent key.
type envelope struct {
	Found bool `json:"found"`
	Value any  `json:"value,omitempty"`
}

// Transient is the durable fallback backend on the shared key/value store,
// used when the host has no distributed object cache.
//
// Values round-trip through JSON: integral numbers come back as int64,
// other numbers as float64. Increment/Decrement are read-modify-write, NOT
// atomic; the rate limiter compensates with its lock-based fallback.
type Transient struct {
	store  storage.Store
	prefix string
	log    logx.Logger
	now    func() time.Time
}

func NewTransient(store storage.Store, prefix string, log logx.Logger) *Transient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transient{store: store, prefix: prefix, log: log, now: time.Now}
}

// SetClock replaces the time source. Test hook.
func (c *Transient) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Transient) BackendType() string { return TypeTransient }

func (c *Transient) valueKey(key string) string {
	return c.prefix + transientKeyPrefix + c.fitKey(key)
}

func (c *Transient) timeoutKey(key string) string {
	return c.prefix + transientTimeoutPrefix + c.fitKey(key)
}

// fitKey keeps derived store keys within the backend key-length limit while
// staying collision-resistant: over-long keys are truncated and suffixed
// with a content hash.
func (c *Transient) fitKey(key string) string {
	overhead := len(c.prefix) + len(transientTimeoutPrefix)
	if overhead+len(key) <= maxStoreKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:8])
	keep := maxStoreKeyLen - overhead - len(h) - 1
	if keep < 0 {
		keep = 0
	}
	return key[:keep] + "." + h
}

func (c *Transient) Lookup(ctx context.Context, key string) (any, bool) {
	// Expiry entry first: an expired pair is deleted eagerly.
	if raw, ok, err := c.store.Get(ctx, c.timeoutKey(key)); err == nil && ok {
		exp, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || !c.now().Before(time.Unix(exp, 0)) {
			_ = c.store.Delete(ctx, c.valueKey(key))
			_ = c.store.Delete(ctx, c.timeoutKey(key))
			return nil, false
		}
	} else if err != nil {
		c.log.Debug("transient expiry read failed", logx.String("key", key), logx.Err(err))
		return nil, false
	}

	raw, ok, err := c.store.Get(ctx, c.valueKey(key))
	if err != nil {
		c.log.Debug("transient read failed", logx.String("key", key), logx.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || !env.Found {
		return nil, false
	}
	return normalizeNumber(env.Value), true
}

func (c *Transient) Get(ctx context.Context, key string, def any) any {
	if v, ok := c.Lookup(ctx, key); ok {
		return v
	}
	return def
}

func (c *Transient) Has(ctx context.Context, key string) bool {
	_, ok := c.Lookup(ctx, key)
	return ok
}

func (c *Transient) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	raw, err := json.Marshal(envelope{Found: true, Value: value})
	if err != nil {
		c.log.Debug("transient marshal failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if err := c.store.Put(ctx, c.valueKey(key), string(raw)); err != nil {
		c.log.Debug("transient write failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if ttl > 0 {
		exp := strconv.FormatInt(c.now().Add(ttl).Unix(), 10)
		if err := c.store.Put(ctx, c.timeoutKey(key), exp); err != nil {
			c.log.Debug("transient expiry write failed", logx.String("key", key), logx.Err(err))
			return false
		}
	} else {
		// Drop any stale expiry so the value never expires.
		_ = c.store.Delete(ctx, c.timeoutKey(key))
	}
	return true
}

func (c *Transient) Delete(ctx context.Context, key string) bool {
	ok := true
	if err := c.store.Delete(ctx, c.valueKey(key)); err != nil {
		ok = false
	}
	if err := c.store.Delete(ctx, c.timeoutKey(key)); err != nil {
		ok = false
	}
	return ok
}

// Clear bulk-deletes by key prefix directly against the store, covering both
// the value entries and their paired expiry entries. The store escapes any
// pattern metacharacters, so the prefix is matched literally.
func (c *Transient) Clear(ctx context.Context, prefix string) bool {
	ok := true
	if _, err := c.store.DeleteByPrefix(ctx, c.prefix+transientTimeoutPrefix+prefix); err != nil {
		c.log.Debug("transient expiry clear failed", logx.String("prefix", prefix), logx.Err(err))
		ok = false
	}
	if _, err := c.store.DeleteByPrefix(ctx, c.prefix+transientKeyPrefix+prefix); err != nil {
		c.log.Debug("transient clear failed", logx.String("prefix", prefix), logx.Err(err))
		ok = false
	}
	return ok
}

func (c *Transient) Remember(ctx context.Context, key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	return remember(ctx, c, key, ttl, producer)
}

func (c *Transient) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.adjust(ctx, key, delta, false)
}

func (c *Transient) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.adjust(ctx, key, -delta, true)
}

// adjust is a read-modify-write; concurrent writers can race. The expiry
// entry is left untouched, so a counter keeps its original TTL.
func (c *Transient) adjust(ctx context.Context, key string, delta int64, floorZero bool) (int64, error) {
	cur, ok := c.Lookup(ctx, key)
	var n int64
	if ok {
		v, numeric := asInt64(cur)
		if !numeric {
			return 0, ErrNotNumeric
		}
		n = v + delta
	} else {
		n = delta
	}
	if floorZero && n < 0 {
		n = 0
	}
	raw, err := json.Marshal(envelope{Found: true, Value: n})
	if err != nil {
		return 0, err
	}
	if err := c.store.Put(ctx, c.valueKey(key), string(raw)); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Transient) GetMultiple(ctx context.Context, keys []string, def any) map[string]any {
	return getMultiple(ctx, c, keys, def)
}

func (c *Transient) SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) bool {
	return setMultiple(ctx, c, values, ttl)
}

func (c *Transient) DeleteMultiple(ctx context.Context, keys []string) bool {
	return deleteMultiple(ctx, c, keys)
}

// normalizeNumber maps JSON float64 back to int64 when the value is
// integral, so counters survive a round-trip through the store.
func normalizeNumber(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}
	return v
}
