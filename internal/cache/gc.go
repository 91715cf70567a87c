package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"janitord/internal/storage"
)

// SweepResult summarizes one bounded slice of an expired-transient sweep.
//
// Cursor is the last timeout key examined; passing it back resumes the scan
// right after it. Done means the keyspace was exhausted this slice.
type SweepResult struct {
	Scanned    int
	Deleted    int
	BytesFreed int64
	Cursor     string
	Done       bool
}

// SweepExpiredTransients deletes expired transient pairs (value + expiry
// entry) directly from the durable store, at most batch entries per call.
//
// Expired means the stored unix expiry is at or before now. Entries whose
// expiry fails to parse are treated as expired garbage and removed too.
func SweepExpiredTransients(ctx context.Context, store storage.Store, prefix string, now time.Time, batch int, cursor string) (SweepResult, error) {
	res := SweepResult{Cursor: cursor}
	if store == nil {
		res.Done = true
		return res, nil
	}
	if batch <= 0 {
		batch = 100
	}

	timeoutPrefix := prefix + transientTimeoutPrefix
	keys, err := store.ListKeys(ctx, timeoutPrefix)
	if err != nil {
		return res, err
	}
	sort.Strings(keys)

	processed := 0
	for _, k := range keys {
		if cursor != "" && k <= cursor {
			continue
		}
		if processed >= batch {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		processed++
		res.Scanned++
		res.Cursor = k

		raw, ok, err := store.Get(ctx, k)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		exp, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil && now.Before(time.Unix(exp, 0)) {
			continue
		}

		valueKey := prefix + transientKeyPrefix + strings.TrimPrefix(k, timeoutPrefix)
		if v, ok, err := store.Get(ctx, valueKey); err == nil && ok {
			res.BytesFreed += int64(len(v))
		}
		if err := store.Delete(ctx, valueKey); err != nil {
			return res, err
		}
		if err := store.Delete(ctx, k); err != nil {
			return res, err
		}
		res.BytesFreed += int64(len(raw))
		res.Deleted++
	}
	res.Done = true
	return res, nil
}
