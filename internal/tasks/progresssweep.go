package tasks

import (
	"context"
	"time"

	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

// ProgressSweep clears checkpoints whose last save is older than the stale
// threshold. An abandoned checkpoint otherwise pins its task to a resume
// position that no longer matches reality.
type ProgressSweep struct {
	log logx.Logger

	// StaleAfter supplies the current threshold; reading it per run keeps
	// hot-reloaded config changes effective. Zero disables the sweep.
	StaleAfter func() time.Duration

	now func() time.Time
}

func NewProgressSweep(staleAfter func() time.Duration, log logx.Logger) *ProgressSweep {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ProgressSweep{log: log, StaleAfter: staleAfter, now: time.Now}
}

func (t *ProgressSweep) ID() string { return TaskProgressSweep }

func (t *ProgressSweep) Run(ctx context.Context, checkpoint *task.Progress) task.Result {
	start := t.now()

	var threshold time.Duration
	if t.StaleAfter != nil {
		threshold = t.StaleAfter()
	}
	if threshold <= 0 {
		return task.Success(TaskProgressSweep, 0, 0, 0, t.now().Sub(start))
	}

	ids := checkpoint.ListAll(ctx)
	found := 0
	cleaned := 0
	errs := map[string]string{}
	for _, id := range ids {
		// Never sweep our own in-flight checkpoint.
		if id == TaskProgressSweep {
			continue
		}
		ps := checkpoint.ForTask(id)
		if !ps.IsStale(ctx, threshold) {
			continue
		}
		found++
		if ps.Clear(ctx) {
			cleaned++
			t.log.Info("stale checkpoint cleared", logx.String("task", id))
		} else {
			errs[id] = "checkpoint delete failed"
		}
	}

	if len(errs) > 0 {
		r := task.Failure(TaskProgressSweep, errs, t.now().Sub(start))
		return r.With(task.Patch{ItemsFound: &found, ItemsCleaned: &cleaned})
	}
	return task.Success(TaskProgressSweep, found, cleaned, 0, t.now().Sub(start))
}
