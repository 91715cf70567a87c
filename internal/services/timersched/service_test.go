package timersched

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

type chanSink struct {
	fired chan string
}

func newChanSink() *chanSink { return &chanSink{fired: make(chan string, 16)} }

func (s *chanSink) Submit(taskID string) error {
	s.fired <- taskID
	return nil
}

func (s *chanSink) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.fired:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timer for %q never fired", want)
	}
}

func (s *chanSink) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-s.fired:
		t.Fatalf("unexpected fire: %q", got)
	case <-time.After(d):
	}
}

func newSchedStore(t *testing.T, dir string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(dir, "kv.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestScheduleFiresIntoSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := newChanSink()
	s := New(nil, sink, logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	// A past fire time fires immediately.
	if err := s.Schedule(ctx, "gc", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sink.wait(t, "gc")

	if ok, _ := s.IsScheduled(ctx, "gc"); ok {
		t.Fatal("fired timer still reported scheduled")
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := newChanSink()
	s := New(nil, sink, logx.Nop())
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	// Far-future timer replaced by an immediate one: exactly one fire.
	_ = s.Schedule(ctx, "gc", time.Now().Add(time.Hour))
	_ = s.Schedule(ctx, "gc", time.Now().Add(10*time.Millisecond))
	sink.wait(t, "gc")
	sink.expectSilence(t, 100*time.Millisecond)
}

func TestUnscheduleCancelsTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := newChanSink()
	s := New(nil, sink, logx.Nop())
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	_ = s.Schedule(ctx, "gc", time.Now().Add(30*time.Millisecond))
	if err := s.Unschedule(ctx, "gc"); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if ok, _ := s.IsScheduled(ctx, "gc"); ok {
		t.Fatal("unscheduled task still listed")
	}
	sink.expectSilence(t, 100*time.Millisecond)
}

func TestListScheduled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil, newChanSink(), logx.Nop())
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	at := time.Now().Add(time.Hour)
	_ = s.Schedule(ctx, "gc", at)
	_ = s.Schedule(ctx, "sweep", at.Add(time.Minute))

	got, err := s.ListScheduled(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || !got["gc"].Equal(at) {
		t.Fatalf("ListScheduled = %v", got)
	}
}

func TestPersistedTimersSurviveRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := newSchedStore(t, dir)
	s := New(st, newChanSink(), logx.Nop())
	_ = s.Start(ctx)
	future := time.Now().Add(time.Hour).Truncate(time.Second)
	_ = s.Schedule(ctx, "gc", future)
	s.Stop(ctx)
	// Simulate a fire time that passed while the process was down.
	overdue := time.Now().Add(-time.Minute).Format(time.RFC3339)
	if err := st.Put(ctx, "sched_overdue", overdue); err != nil {
		t.Fatalf("seed overdue row: %v", err)
	}
	_ = st.Close()

	st2 := newSchedStore(t, dir)
	defer st2.Close()
	sink := newChanSink()
	s2 := New(st2, sink, logx.Nop())
	if err := s2.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s2.Stop(ctx)

	sink.wait(t, "overdue")
	if ok, _ := s2.IsScheduled(ctx, "gc"); !ok {
		t.Fatal("future timer not restored")
	}
	got, _ := s2.ListScheduled(ctx)
	if !got["gc"].Equal(future) {
		t.Fatalf("restored fire time %v, want %v", got["gc"], future)
	}
}

func TestFireDeletesPersistedRowFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSchedStore(t, t.TempDir())
	defer st.Close()

	sink := newChanSink()
	s := New(st, sink, logx.Nop())
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	_ = s.Schedule(ctx, "gc", time.Now().Add(-time.Second))
	sink.wait(t, "gc")

	// The persisted row is gone, so a restart cannot double-run the task.
	if _, ok, _ := st.Get(ctx, "sched_gc"); ok {
		t.Fatal("persisted schedule survived its fire")
	}
}

func TestStopSilencesTimers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := newChanSink()
	s := New(nil, sink, logx.Nop())
	_ = s.Start(ctx)

	_ = s.Schedule(ctx, "gc", time.Now().Add(20*time.Millisecond))
	s.Stop(ctx)
	sink.expectSilence(t, 100*time.Millisecond)
}

func TestSupportsBulk(t *testing.T) {
	t.Parallel()
	if New(nil, nil, logx.Nop()).SupportsBulk() {
		t.Fatal("in-memory table claims durable bulk support")
	}
	st := newSchedStore(t, t.TempDir())
	defer st.Close()
	if !New(st, nil, logx.Nop()).SupportsBulk() {
		t.Fatal("durable table denies bulk support")
	}
}
