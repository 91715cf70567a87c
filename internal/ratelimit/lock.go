package ratelimit

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// lockTTL bounds how long a crashed holder can wedge a caller's lock.
const lockTTL = 30 * time.Second

// acquireLock races a unique-constrained dual insert (a value row and a
// paired expiry row) against the shared store. Affecting both rows means the
// lock is held. On conflict, a lock whose recorded expiry has already passed
// is deleted and the insert retried; otherwise we back off briefly, up to
// LockAttempts attempts.
func (l *Limiter) acquireLock(ctx context.Context, caller string) (release func(), ok bool) {
	if l.store == nil {
		return nil, false
	}

	lockKey := "ratelimit_lock_" + caller
	expiryKey := lockKey + "_expiry"

	release = func() {
		// Detached from the request context: a canceled caller must still
		// free the lock instead of wedging it for the full TTL.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Unconditional; a failed delete only means the TTL cleans up later.
		if err := l.store.Delete(rctx, lockKey); err != nil {
			l.log.Debug("rate lock release failed", logx.String("caller", caller), logx.Err(err))
		}
		_ = l.store.Delete(rctx, expiryKey)
	}

	for attempt := 1; attempt <= l.cfg.LockAttempts; attempt++ {
		expiry := strconv.FormatInt(l.now().Add(lockTTL).Unix(), 10)
		held, err := l.store.InsertUnique(ctx,
			storage.Entry{Key: lockKey, Value: "1"},
			storage.Entry{Key: expiryKey, Value: expiry},
		)
		if err != nil {
			l.log.Debug("rate lock insert failed", logx.String("caller", caller), logx.Int("attempt", attempt), logx.Err(err))
			return nil, false
		}
		if held {
			return release, true
		}

		// Someone else holds it. A stale lock (recorded expiry passed) is
		// broken and the insert retried without burning a backoff.
		if l.breakStale(ctx, lockKey, expiryKey) {
			continue
		}

		if attempt < l.cfg.LockAttempts {
			d := l.cfg.LockBackoff + time.Duration(rand.Int63n(int64(l.cfg.LockBackoff)))
			select {
			case <-ctx.Done():
				return nil, false
			default:
			}
			l.sleep(d)
		}
	}
	return nil, false
}

func (l *Limiter) breakStale(ctx context.Context, lockKey, expiryKey string) bool {
	raw, ok, err := l.store.Get(ctx, expiryKey)
	if err != nil {
		return false
	}
	if !ok {
		// Half-written lock (value row without expiry row): treat as stale.
		_ = l.store.Delete(ctx, lockKey)
		return true
	}
	exp, perr := strconv.ParseInt(raw, 10, 64)
	if perr == nil && l.now().Before(time.Unix(exp, 0)) {
		return false
	}
	_ = l.store.Delete(ctx, lockKey)
	_ = l.store.Delete(ctx, expiryKey)
	return true
}
