// Package ratelimit implements the per-caller request-rate limiter.
//
// Primary path: the cache backend's atomic increment. Fallback path (no
// atomic primitive available): a short-lived mutual-exclusion lock acquired
// by racing a unique-constrained dual insert against the shared durable
// store. Lock exhaustion rejects the request (fail-closed).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"janitord/internal/cache"
	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// Config controls the limiter.
//
// Limit is the number of requests allowed per caller per window. Window
// defaults to one minute. LockAttempts/LockBackoff tune the fallback lock
// acquisition; the retry parameters are tuning knobs, the fail-closed
// behavior is not.
type Config struct {
	Limit        int
	Window       time.Duration
	LockAttempts int
	LockBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.LockAttempts <= 0 {
		c.LockAttempts = 3
	}
	if c.LockBackoff <= 0 {
		c.LockBackoff = 150 * time.Millisecond
	}
	return c
}

type Limiter struct {
	cfg   Config
	cache cache.Cache
	store storage.Store
	log   logx.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

func New(cfg Config, c cache.Cache, store storage.Store, log logx.Logger) *Limiter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{
		cfg:   cfg.withDefaults(),
		cache: c,
		store: store,
		log:   log,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// SetClock replaces the time source and sleep function. Test hook.
func (l *Limiter) SetClock(now func() time.Time, sleep func(time.Duration)) {
	if now != nil {
		l.now = now
	}
	if sleep != nil {
		l.sleep = sleep
	}
}

// Allow reports whether the caller's request fits within the current window.
// On infrastructure uncertainty it denies (fail-closed).
func (l *Limiter) Allow(ctx context.Context, caller string) bool {
	key := l.counterKey(caller)

	if ac, ok := l.cache.(cache.AtomicCounter); ok {
		n, err := ac.AddWithTTL(ctx, key, 1, l.cfg.Window)
		if err != nil {
			l.log.Warn("rate counter increment failed; rejecting", logx.String("caller", caller), logx.Err(err))
			return false
		}
		return n <= int64(l.cfg.Limit)
	}

	return l.allowLocked(ctx, caller, key)
}

// counterKey is one key per caller per window; the window start in the key
// makes stale counters harmless even before their TTL fires.
func (l *Limiter) counterKey(caller string) string {
	window := int64(l.cfg.Window / time.Second)
	if window <= 0 {
		window = 60
	}
	slot := l.now().Unix() / window
	return fmt.Sprintf("ratelimit_%s_%d", caller, slot)
}

// allowLocked serializes the read-check-increment-write under the store
// lock. The lock is released unconditionally, including on error.
func (l *Limiter) allowLocked(ctx context.Context, caller, key string) bool {
	release, ok := l.acquireLock(ctx, caller)
	if !ok {
		l.log.Warn("rate lock unavailable; rejecting", logx.String("caller", caller))
		return false
	}
	defer release()

	cur, exists := l.cache.Lookup(ctx, key)
	if !exists {
		if !l.cache.Set(ctx, key, int64(1), l.cfg.Window) {
			return false
		}
		return l.cfg.Limit >= 1
	}

	n, err := l.cache.Increment(ctx, key, 1)
	if err != nil {
		l.log.Warn("rate counter update failed; rejecting", logx.String("caller", caller), logx.Any("current", cur), logx.Err(err))
		return false
	}
	return n <= int64(l.cfg.Limit)
}
