package scheduler

import (
	"context"
	"testing"
	"time"

	"janitord/internal/task"
)

func TestRearmCompletedRunAdvancesOneInterval(t *testing.T) {
	t.Parallel()
	host := newFakeHost()
	s := newTestService(t, Config{Enabled: true, PreferredHour: 4}, testRegistry, host)

	executed := time.Date(2026, 3, 10, 4, 5, 0, 0, time.UTC)
	res := task.Success("gc", 1, 1, 0, time.Second)
	res = res.With(task.Patch{ExecutedAt: &executed})

	at, err := s.Rearm(context.Background(), res)
	if err != nil {
		t.Fatalf("rearm: %v", err)
	}
	want := time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("rearm at %v, want %v", at, want)
	}
	if got := host.queued["gc"]; !got.Equal(want) {
		t.Fatalf("host queued %v, want %v", got, want)
	}
}

func TestRearmInterruptedRunUsesResumeTime(t *testing.T) {
	t.Parallel()
	host := newFakeHost()
	s := newTestService(t, Config{Enabled: true, PreferredHour: 4}, testRegistry, host)

	resume := time.Date(2026, 3, 10, 4, 35, 0, 0, time.UTC)
	res := task.Interrupted("gc", 5, 3, 0, nil, resume, time.Second)

	at, err := s.Rearm(context.Background(), res)
	if err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if !at.Equal(resume) {
		t.Fatalf("rearm at %v, want resume time %v", at, resume)
	}
}

func TestRearmDisabledQueuesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	res := task.Success("gc", 0, 0, 0, time.Second)

	// Global flag off.
	host := newFakeHost()
	s := newTestService(t, Config{Enabled: false}, testRegistry, host)
	at, err := s.Rearm(ctx, res)
	if err != nil || !at.IsZero() {
		t.Fatalf("flag off: at=%v err=%v", at, err)
	}

	// Task disabled by override.
	host = newFakeHost()
	off := false
	s = newTestService(t, Config{Enabled: true, Tasks: map[string]TaskConfig{"gc": {Enabled: &off}}}, testRegistry, host)
	at, err = s.Rearm(ctx, res)
	if err != nil || !at.IsZero() {
		t.Fatalf("task off: at=%v err=%v", at, err)
	}
	if len(host.queued) != 0 {
		t.Fatalf("disabled task queued: %v", host.queued)
	}
}

func TestRearmUnknownTask(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, testRegistry, newFakeHost())
	if _, err := s.Rearm(context.Background(), task.Success("nope", 0, 0, 0, 0)); err == nil {
		t.Fatal("unknown task accepted")
	}
}
