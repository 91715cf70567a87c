package tasks

import (
	"context"
	"time"

	"janitord/internal/cache"
	"janitord/internal/storage"
	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

// Checkpoint fields written by TransientGC between slices.
const (
	gcFieldCursor       = "cursor"
	gcFieldItemsFound   = "items_found"
	gcFieldItemsCleaned = "items_cleaned"
	gcFieldBytesFreed   = "bytes_freed"
)

// TransientGC purges expired transient cache entries from the durable store
// in bounded slices. A slice that exhausts its wall budget checkpoints its
// scan cursor and reports interrupted; the next slice resumes after it.
type TransientGC struct {
	store  storage.Store
	prefix string
	log    logx.Logger

	// Batch caps store entries examined per sweep call.
	Batch int
	// SliceBudget is the wall budget for one slice. Zero means run until done.
	SliceBudget time.Duration
	// ResumeDelay is how soon an interrupted slice asks to resume.
	ResumeDelay time.Duration

	now func() time.Time
}

func NewTransientGC(store storage.Store, prefix string, log logx.Logger) *TransientGC {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TransientGC{
		store:       store,
		prefix:      prefix,
		log:         log,
		Batch:       500,
		SliceBudget: 30 * time.Second,
		ResumeDelay: 5 * time.Minute,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (t *TransientGC) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

func (t *TransientGC) ID() string { return TaskTransientGC }

func (t *TransientGC) Run(ctx context.Context, checkpoint *task.Progress) task.Result {
	start := t.now()

	// Resume position and accumulated counters from the previous slice.
	saved := checkpoint.Load(ctx)
	cursor, _ := saved[gcFieldCursor].(string)
	found := asInt(saved[gcFieldItemsFound])
	cleaned := asInt(saved[gcFieldItemsCleaned])
	bytesFreed := asInt64(saved[gcFieldBytesFreed])

	if t.store == nil {
		return task.Success(TaskTransientGC, found, cleaned, bytesFreed, t.now().Sub(start))
	}

	deadline := time.Time{}
	if t.SliceBudget > 0 {
		deadline = start.Add(t.SliceBudget)
	}

	const chunk = 100
	for {
		res, err := cache.SweepExpiredTransients(ctx, t.store, t.prefix, t.now(), chunk, cursor)
		found += res.Scanned
		cleaned += res.Deleted
		bytesFreed += res.BytesFreed
		cursor = res.Cursor

		if err != nil {
			if ctx.Err() != nil {
				return t.interrupt(ctx, checkpoint, cursor, found, cleaned, bytesFreed, start)
			}
			t.log.Warn("transient sweep slice failed", logx.Err(err))
			r := task.Failure(TaskTransientGC, map[string]string{"sweep": err.Error()}, t.now().Sub(start))
			return r.With(task.Patch{ItemsFound: &found, ItemsCleaned: &cleaned, BytesFreed: &bytesFreed})
		}
		if res.Done {
			return task.Success(TaskTransientGC, found, cleaned, bytesFreed, t.now().Sub(start))
		}
		if !deadline.IsZero() && !t.now().Before(deadline) {
			return t.interrupt(ctx, checkpoint, cursor, found, cleaned, bytesFreed, start)
		}
		if t.Batch > 0 && found >= t.Batch {
			return t.interrupt(ctx, checkpoint, cursor, found, cleaned, bytesFreed, start)
		}
	}
}

func (t *TransientGC) interrupt(ctx context.Context, checkpoint *task.Progress, cursor string, found, cleaned int, bytesFreed int64, start time.Time) task.Result {
	resume := t.ResumeDelay
	if resume <= 0 {
		resume = 5 * time.Minute
	}
	nextRun := t.now().Add(resume)
	checkpoint.SaveInterrupted(ctx, map[string]any{
		gcFieldCursor:       cursor,
		gcFieldItemsFound:   found,
		gcFieldItemsCleaned: cleaned,
		gcFieldBytesFreed:   bytesFreed,
	}, nil)
	t.log.Debug("transient sweep interrupted",
		logx.String("cursor", cursor),
		logx.Int("cleaned", cleaned),
		logx.Time("resume_at", nextRun))
	return task.Interrupted(TaskTransientGC, found, cleaned, bytesFreed, nil, nextRun, t.now().Sub(start))
}

// Checkpoint numbers round-trip through JSON, so they come back as float64.

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
