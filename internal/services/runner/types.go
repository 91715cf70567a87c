package runner

import (
	"context"
	"sync"
	"time"

	"janitord/internal/task"
)

// Config controls the task execution engine.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// MaxQueueDelay drops items that sat in the queue longer than this.
	// Zero disables stale dropping.
	MaxQueueDelay time.Duration
	HistorySize   int
}

// Handler is one registered maintenance task. Run receives a checkpoint
// bound to the task's id; a slice that runs out of budget saves its cursor
// there and returns an interrupted result.
type Handler interface {
	ID() string
	Run(ctx context.Context, checkpoint *task.Progress) task.Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	TaskID string
	Fn     func(ctx context.Context, checkpoint *task.Progress) task.Result
}

func (h HandlerFunc) ID() string { return h.TaskID }

func (h HandlerFunc) Run(ctx context.Context, checkpoint *task.Progress) task.Result {
	return h.Fn(ctx, checkpoint)
}

// Rearmer queues the follow-up run once a slice finishes.
type Rearmer interface {
	Rearm(ctx context.Context, res task.Result) (time.Time, error)
}

// runState tracks whether a task is already in flight or queued. Overlap
// skipping treats "queued" the same as "running" so a trigger firing faster
// than execution cannot blow up the queue.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// HistoryItem is one finished slice, kept in a bounded ring for diagnostics.
type HistoryItem struct {
	TaskID       string
	Started      time.Time
	Duration     time.Duration
	ItemsCleaned int
	BytesFreed   int64
	Interrupted  bool
	Error        string
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	Dropped  uint64

	DefaultTimeout time.Duration
	History        []HistoryItem
}
