package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"janitord/internal/eventbus"
	"janitord/internal/storage"
	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

func blockingHandler(id string, started chan<- string, release <-chan struct{}) Handler {
	return HandlerFunc{
		TaskID: id,
		Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
			if started != nil {
				started <- id
			}
			if release != nil {
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return task.Success(id, 1, 1, 0, time.Millisecond)
		},
	}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSubmitGuards(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, nil, nil, nil, logx.Nop())
	s.Register(blockingHandler("gc", nil, nil))

	if err := s.Submit("gc"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}

	s.Apply(Config{Enabled: true})
	if err := s.Submit("gc"); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: %v", err)
	}

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)
	if err := s.Submit("nope"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1}, nil, nil, bus, logx.Nop())
	started := make(chan string, 1)
	release := make(chan struct{})
	s.Register(blockingHandler("gc", started, release))
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Submit("gc"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-started

	// The same task id is skipped while its first run is still in flight.
	if err := s.Submit("gc"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("overlap submit: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskSkipped)
	if res, ok := e.Data.(task.Result); !ok || res.Errors["skip"] != "overlap" {
		t.Fatalf("skip event data: %+v", e.Data)
	}

	close(release)
	waitEvent(t, events, eventbus.TypeTaskFinished)

	// After completion the id is free again. The in-flight slot is released
	// just after the finished event, so poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := s.Submit("gc")
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOverlapSkip) {
			t.Fatalf("resubmit after completion: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("task id never freed after completion")
		}
		time.Sleep(time.Millisecond)
	}
	<-started
}

func TestQueueFullDropsSubmission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1}, nil, nil, bus, logx.Nop())
	started := make(chan string, 3)
	release := make(chan struct{})
	for _, id := range []string{"t1", "t2", "t3"} {
		s.Register(blockingHandler(id, started, release))
	}
	s.Start(ctx)
	defer s.Stop(ctx)

	// t1 occupies the single worker, t2 the single queue slot.
	if err := s.Submit("t1"); err != nil {
		t.Fatalf("t1: %v", err)
	}
	<-started
	if err := s.Submit("t2"); err != nil {
		t.Fatalf("t2: %v", err)
	}

	if err := s.Submit("t3"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("t3: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskDropped)
	if res, ok := e.Data.(task.Result); !ok || res.Errors["drop"] != "queue_full" {
		t.Fatalf("drop event data: %+v", e.Data)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped counter = %d, want 1", s.Snapshot().Dropped)
	}

	// The dropped task's slot was released; once both queued runs drain it
	// can be submitted again.
	close(release)
	waitEvent(t, events, eventbus.TypeTaskFinished)
	waitEvent(t, events, eventbus.TypeTaskFinished)
	if err := s.Submit("t3"); err != nil {
		t.Fatalf("t3 after drain: %v", err)
	}
}

func TestHandlerPanicYieldsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1}, nil, nil, bus, logx.Nop())
	s.Register(HandlerFunc{TaskID: "boom", Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
		panic("kaboom")
	}})
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Submit("boom"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskFailed)
	res, ok := e.Data.(task.Result)
	if !ok || res.Success {
		t.Fatalf("failed event data: %+v", e.Data)
	}
	if res.Errors["panic"] == "" {
		t.Fatalf("panic not captured in errors: %v", res.Errors)
	}

	// The worker survived; another run still executes.
	if err := s.Submit("boom"); err != nil {
		t.Fatalf("resubmit after panic: %v", err)
	}
	waitEvent(t, events, eventbus.TypeTaskFailed)
}

func TestSuccessClearsCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "kv.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	progress := task.NewProgress(st, logx.Nop())
	progress.ForTask("gc").Save(ctx, map[string]any{"cursor": "stale"})

	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1}, progress, nil, bus, logx.Nop())
	s.Register(HandlerFunc{TaskID: "gc", Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
		// The handler sees the previously saved cursor.
		if checkpoint.Load(ctx)["cursor"] != "stale" {
			return task.Failure("gc", map[string]string{"checkpoint": "missing"}, 0)
		}
		return task.Success("gc", 2, 2, 64, time.Millisecond)
	}})
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Submit("gc"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent(t, events, eventbus.TypeTaskFinished)

	if progress.ForTask("gc").HasProgress(ctx) {
		t.Fatal("checkpoint survived a successful run")
	}
}

type recordingRearmer struct {
	got chan task.Result
}

func (r *recordingRearmer) Rearm(ctx context.Context, res task.Result) (time.Time, error) {
	r.got <- res
	return time.Now().Add(time.Hour), nil
}

func TestRearmerReceivesEveryOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rearm := &recordingRearmer{got: make(chan task.Result, 2)}

	s := New(Config{Enabled: true, Workers: 1}, nil, rearm, nil, logx.Nop())
	resume := time.Now().Add(10 * time.Minute)
	s.Register(HandlerFunc{TaskID: "gc", Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
		return task.Interrupted("gc", 5, 3, 0, nil, resume, time.Millisecond)
	}})
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Submit("gc"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-rearm.got:
		if !res.Interrupted || !res.NextRun.Equal(resume) {
			t.Fatalf("rearmer got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rearmer never called")
	}
}

func TestMaxQueueDelayDropsStaleWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	ran := make(chan struct{}, 1)
	s := New(Config{Enabled: true, Workers: 1, MaxQueueDelay: time.Nanosecond}, nil, nil, bus, logx.Nop())
	s.Register(HandlerFunc{TaskID: "gc", Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
		ran <- struct{}{}
		return task.Success("gc", 0, 0, 0, 0)
	}})
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Submit("gc"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskDropped)
	if res, ok := e.Data.(task.Result); !ok || res.Errors["drop"] != "stale_queue" {
		t.Fatalf("drop event data: %+v", e.Data)
	}
	select {
	case <-ran:
		t.Fatal("stale task executed")
	default:
	}
}

func TestHistoryRing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, HistorySize: 2}, nil, nil, bus, logx.Nop())
	s.Register(HandlerFunc{TaskID: "gc", Fn: func(ctx context.Context, checkpoint *task.Progress) task.Result {
		return task.Success("gc", 1, 1, 8, time.Millisecond)
	}})
	s.Start(ctx)
	defer s.Stop(ctx)

	for i := 0; i < 3; i++ {
		if err := s.Submit("gc"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		waitEvent(t, events, eventbus.TypeTaskFinished)
	}

	hist := s.Snapshot().History
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	for _, h := range hist {
		if h.TaskID != "gc" || h.ItemsCleaned != 1 {
			t.Fatalf("history item: %+v", h)
		}
	}
}
