package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "kv.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestProgressUnboundIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(nil, logx.Nop()).ForTask("gc")
	if p.Save(ctx, map[string]any{"cursor": "x"}) {
		t.Fatal("Save on unbound progress must report failure")
	}
	if got := p.Load(ctx); len(got) != 0 {
		t.Fatalf("Load on unbound progress = %v, want empty", got)
	}
	if p.HasProgress(ctx) {
		t.Fatal("unbound progress claims checkpoint exists")
	}

	// Bound store but no task id behaves the same.
	q := NewProgress(newTestStore(t), logx.Nop()).ForTask("  ")
	if q.Save(ctx, map[string]any{"cursor": "x"}) {
		t.Fatal("Save without a task id must report failure")
	}
}

func TestProgressSaveLoadClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(newTestStore(t), logx.Nop()).ForTask("gc")
	if !p.Save(ctx, map[string]any{"cursor": "k42"}) {
		t.Fatal("Save failed")
	}

	got := p.Load(ctx)
	if got["cursor"] != "k42" {
		t.Fatalf("cursor = %v", got["cursor"])
	}
	if _, ok := got[FieldSavedAt]; !ok {
		t.Fatal("saved_at not stamped")
	}
	if !p.HasProgress(ctx) {
		t.Fatal("HasProgress = false after save")
	}

	if !p.Clear(ctx) {
		t.Fatal("Clear failed")
	}
	if p.HasProgress(ctx) {
		t.Fatal("checkpoint survived Clear")
	}
}

func TestProgressSaveDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(newTestStore(t), logx.Nop()).ForTask("gc")

	in := map[string]any{"cursor": "k42"}
	if !p.Save(ctx, in) {
		t.Fatal("Save failed")
	}
	if len(in) != 1 {
		t.Fatalf("Save wrote into the caller's map: %v", in)
	}

	in = map[string]any{"cursor": "k43"}
	if !p.SaveInterrupted(ctx, in, map[string]string{"db": "locked"}) {
		t.Fatal("SaveInterrupted failed")
	}
	if len(in) != 1 {
		t.Fatalf("SaveInterrupted wrote into the caller's map: %v", in)
	}

	// The stamps still land in the stored checkpoint.
	got := p.Load(ctx)
	if _, ok := got[FieldSavedAt]; !ok {
		t.Fatal("saved_at missing from stored checkpoint")
	}
	if _, ok := got[FieldInterruptedAt]; !ok {
		t.Fatal("interrupted_at missing from stored checkpoint")
	}
}

func TestProgressSaveInterruptedMergesErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(newTestStore(t), logx.Nop()).ForTask("gc")
	p.Save(ctx, map[string]any{FieldErrors: map[string]string{"a": "old"}})

	cur := p.Load(ctx)
	if !p.SaveInterrupted(ctx, cur, map[string]string{"b": "new"}) {
		t.Fatal("SaveInterrupted failed")
	}

	got := p.Load(ctx)
	if _, ok := got[FieldInterruptedAt]; !ok {
		t.Fatal("interrupted_at not stamped")
	}
	errs, _ := got[FieldErrors].(map[string]any)
	if errs["a"] != "old" || errs["b"] != "new" {
		t.Fatalf("errors = %v", got[FieldErrors])
	}
}

func TestProgressUpdateAndIncrement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(newTestStore(t), logx.Nop()).ForTask("gc")
	p.Save(ctx, map[string]any{"cursor": "a", "count": 1})
	p.Update(ctx, map[string]any{"cursor": "b"})

	got := p.Load(ctx)
	if got["cursor"] != "b" {
		t.Fatalf("cursor = %v, want b", got["cursor"])
	}
	if n, _ := got["count"].(float64); n != 1 {
		t.Fatalf("count = %v, want 1", got["count"])
	}

	if !p.Increment(ctx, "count", 4) {
		t.Fatal("Increment failed")
	}
	if n, _ := p.Load(ctx)["count"].(float64); n != 5 {
		t.Fatalf("count after increment = %v, want 5", p.Load(ctx)["count"])
	}

	// Non-numeric counter is refused, not clobbered.
	p.Update(ctx, map[string]any{"count": "oops"})
	if p.Increment(ctx, "count", 1) {
		t.Fatal("Increment on non-numeric value must fail")
	}
}

func TestProgressCompletedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewProgress(newTestStore(t), logx.Nop()).ForTask("gc")
	if p.Completed(ctx, "phase1") {
		t.Fatal("phase1 completed before recording")
	}
	if !p.AddCompletedTask(ctx, "phase1") {
		t.Fatal("AddCompletedTask failed")
	}
	// Recording twice stays idempotent.
	if !p.AddCompletedTask(ctx, "phase1") {
		t.Fatal("repeat AddCompletedTask failed")
	}
	if !p.Completed(ctx, "phase1") {
		t.Fatal("phase1 not reported completed")
	}
	if p.Completed(ctx, "phase2") {
		t.Fatal("phase2 reported completed")
	}
}

func TestProgressIsStaleBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	threshold := 24 * time.Hour
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	p := NewProgress(newTestStore(t), logx.Nop())
	clock := base
	p.SetClock(func() time.Time { return clock })
	bound := p.ForTask("gc")
	bound.Save(ctx, map[string]any{"cursor": "x"})

	// Staleness is strict: exactly at the threshold is still fresh.
	clock = base.Add(threshold)
	if bound.IsStale(ctx, threshold) {
		t.Fatal("checkpoint at exactly threshold age reported stale")
	}
	clock = base.Add(threshold + time.Second)
	if !bound.IsStale(ctx, threshold) {
		t.Fatal("checkpoint past threshold not reported stale")
	}

	// A checkpoint without saved_at is never stale.
	fresh := NewProgress(newTestStore(t), logx.Nop()).ForTask("other")
	if fresh.IsStale(ctx, time.Nanosecond) {
		t.Fatal("missing checkpoint reported stale")
	}
}

func TestProgressListAllAndClearAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := NewProgress(newTestStore(t), logx.Nop())
	root.ForTask("a").Save(ctx, map[string]any{"k": 1})
	root.ForTask("b").Save(ctx, map[string]any{"k": 2})

	ids := root.ListAll(ctx)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ListAll = %v", ids)
	}

	if n := root.ClearAll(ctx); n != 2 {
		t.Fatalf("ClearAll = %d, want 2", n)
	}
	if got := root.ListAll(ctx); len(got) != 0 {
		t.Fatalf("checkpoints survived ClearAll: %v", got)
	}
}
