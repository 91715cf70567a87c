package task

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// Checkpoint keys live under one namespace in the durable store.
const progressKeyPrefix = "progress_"

// Reserved checkpoint fields maintained by Progress itself. Everything else
// in the map (cursor/offset data) is opaque task-specific resume state.
const (
	FieldCompletedTasks = "completed_tasks"
	FieldErrors         = "errors"
	FieldSavedAt        = "saved_at"
	FieldInterruptedAt  = "interrupted_at"
)

// Progress is a durable per-task checkpoint: a task that runs out of budget
// saves its position here and the next invocation resumes from it.
//
// An unbound Progress (no task id yet) never errors: writes report failure,
// reads come back empty. Callers may construct one before knowing whether
// the task needs checkpointing at all.
//
// Update and the helpers built on it are read-modify-write with no internal
// locking. Concurrent writers to the same task id can lose updates; the
// host scheduler avoids overlapping fires and the runner enforces
// overlap-skip per task id in-process, so a single writer per task is the
// operating assumption.
type Progress struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	taskID string
	key    string
}

func NewProgress(store storage.Store, log logx.Logger) *Progress {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Progress{store: store, log: log, now: time.Now}
}

// SetClock replaces the time source. Test hook.
func (p *Progress) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// ForTask returns a copy bound to the task's namespaced checkpoint key.
func (p *Progress) ForTask(taskID string) *Progress {
	cp := *p
	taskID = strings.TrimSpace(taskID)
	cp.taskID = taskID
	if taskID != "" {
		cp.key = progressKeyPrefix + taskID
	} else {
		cp.key = ""
	}
	return &cp
}

func (p *Progress) TaskID() string { return p.taskID }

func (p *Progress) bound() bool { return p.store != nil && p.key != "" }

// Load returns the current checkpoint, or an empty map if none exists or
// the store is unbound.
func (p *Progress) Load(ctx context.Context) map[string]any {
	if !p.bound() {
		return map[string]any{}
	}
	raw, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		p.log.Debug("checkpoint read failed", logx.String("task", p.taskID), logx.Err(err))
		return map[string]any{}
	}
	if !ok {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Save persists the full checkpoint, stamping saved_at. The caller's map is
// copied, not written to.
func (p *Progress) Save(ctx context.Context, data map[string]any) bool {
	if !p.bound() {
		return false
	}
	cp := make(map[string]any, len(data)+1)
	for k, v := range data {
		cp[k] = v
	}
	cp[FieldSavedAt] = p.now().Format(time.RFC3339)
	raw, err := json.Marshal(cp)
	if err != nil {
		p.log.Debug("checkpoint marshal failed", logx.String("task", p.taskID), logx.Err(err))
		return false
	}
	if err := p.store.Put(ctx, p.key, string(raw)); err != nil {
		p.log.Debug("checkpoint write failed", logx.String("task", p.taskID), logx.Err(err))
		return false
	}
	return true
}

// SaveInterrupted persists the checkpoint and stamps interrupted_at, merging
// any slice errors into the stored error map.
func (p *Progress) SaveInterrupted(ctx context.Context, data map[string]any, errs map[string]string) bool {
	if !p.bound() {
		return false
	}
	cp := make(map[string]any, len(data)+2)
	for k, v := range data {
		cp[k] = v
	}
	cp[FieldInterruptedAt] = p.now().Format(time.RFC3339)
	if len(errs) > 0 {
		merged := asErrors(cp[FieldErrors])
		for k, v := range errs {
			merged[k] = v
		}
		cp[FieldErrors] = merged
	}
	return p.Save(ctx, cp)
}

// Update merges the partial fields into the existing checkpoint.
// The read-merge-write sequence is not atomic; callers are expected to
// have a single writer per task id.
func (p *Progress) Update(ctx context.Context, partial map[string]any) bool {
	if !p.bound() {
		return false
	}
	cur := p.Load(ctx)
	for k, v := range partial {
		cur[k] = v
	}
	return p.Save(ctx, cur)
}

// AddCompletedTask records a finished sub-step so a resumed slice skips it.
func (p *Progress) AddCompletedTask(ctx context.Context, name string) bool {
	if !p.bound() {
		return false
	}
	cur := p.Load(ctx)
	done := asStringSlice(cur[FieldCompletedTasks])
	for _, d := range done {
		if d == name {
			return true
		}
	}
	done = append(done, name)
	return p.Update(ctx, map[string]any{FieldCompletedTasks: done})
}

// Completed reports whether a sub-step was already finished.
func (p *Progress) Completed(ctx context.Context, name string) bool {
	for _, d := range asStringSlice(p.Load(ctx)[FieldCompletedTasks]) {
		if d == name {
			return true
		}
	}
	return false
}

func (p *Progress) AddError(ctx context.Context, key, message string) bool {
	if !p.bound() {
		return false
	}
	cur := p.Load(ctx)
	errs := asErrors(cur[FieldErrors])
	errs[key] = message
	return p.Update(ctx, map[string]any{FieldErrors: errs})
}

// Increment adjusts a numeric checkpoint counter by delta.
func (p *Progress) Increment(ctx context.Context, counter string, delta int64) bool {
	if !p.bound() {
		return false
	}
	cur := p.Load(ctx)
	var n int64
	if v, ok := cur[counter]; ok {
		f, numeric := asFloat(v)
		if !numeric {
			return false
		}
		n = int64(f)
	}
	return p.Update(ctx, map[string]any{counter: n + delta})
}

// HasProgress reports whether a non-empty checkpoint exists.
func (p *Progress) HasProgress(ctx context.Context) bool {
	return len(p.Load(ctx)) > 0
}

// IsStale reports whether the checkpoint's saved_at is older than the
// threshold (strictly: now - saved_at > threshold). Used to detect abandoned
// runs so a sweep can clear them.
func (p *Progress) IsStale(ctx context.Context, threshold time.Duration) bool {
	saved, ok := asTime(p.Load(ctx)[FieldSavedAt])
	if !ok {
		return false
	}
	return p.now().Sub(saved) > threshold
}

// Clear deletes the checkpoint; called on successful full completion.
func (p *Progress) Clear(ctx context.Context) bool {
	if !p.bound() {
		return false
	}
	if err := p.store.Delete(ctx, p.key); err != nil {
		p.log.Debug("checkpoint delete failed", logx.String("task", p.taskID), logx.Err(err))
		return false
	}
	return true
}

// ClearAll removes every task's checkpoint (administrative sweep), returning
// how many were deleted. Works on unbound stores too.
func (p *Progress) ClearAll(ctx context.Context) int {
	if p.store == nil {
		return 0
	}
	n, err := p.store.DeleteByPrefix(ctx, progressKeyPrefix)
	if err != nil {
		p.log.Debug("checkpoint sweep failed", logx.Err(err))
		return 0
	}
	return n
}

// ListAll returns the task ids that currently have a checkpoint.
func (p *Progress) ListAll(ctx context.Context) []string {
	if p.store == nil {
		return nil
	}
	keys, err := p.store.ListKeys(ctx, progressKeyPrefix)
	if err != nil {
		p.log.Debug("checkpoint list failed", logx.Err(err))
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, progressKeyPrefix))
	}
	return out
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
