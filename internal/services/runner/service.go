package runner

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"janitord/internal/eventbus"
	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

type queuedRun struct {
	handler  Handler
	state    *runState
	timeout  time.Duration
	enqueued time.Time
}

// Service executes registered maintenance tasks from a queue using a worker
// pool. Overlapping submissions of the same task id are skipped; workers are
// panic-safe and cooperate with shutdown via Start/Stop.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	cfg      Config
	progress *task.Progress
	rearmer  Rearmer

	handlers map[string]Handler

	queue     chan queuedRun
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	stateMu sync.Mutex
	states  map[string]*runState

	hmu     sync.Mutex
	history []HistoryItem

	dropped uint64
}

func New(cfg Config, progress *task.Progress, rearmer Rearmer, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		progress: progress,
		rearmer:  rearmer,
		handlers: map[string]Handler{},
		states:   map[string]*runState{},
	}
}

// Register adds a task handler. Later registrations with the same id win;
// registration is expected to happen before Start.
func (s *Service) Register(h Handler) {
	if h == nil {
		return
	}
	id := strings.TrimSpace(h.ID())
	if id == "" {
		return
	}
	s.mu.Lock()
	s.handlers[id] = h
	s.mu.Unlock()
}

// Handlers lists the registered task ids.
func (s *Service) Handlers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handlers))
	for id := range s.handlers {
		out = append(out, id)
	}
	return out
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	// Live pool resizing is out of scope; new sizes apply on next Start.
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.Int("workers", cur.Workers), logx.Int("queue_size", cur.QueueSize))

	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	qs := s.cfg.QueueSize
	if qs <= 0 {
		qs = 64
	}
	// Fresh queue per run to avoid executing stale items after a stop/start toggle.
	s.queue = make(chan queuedRun, qs)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in runner worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(runCtx, stopCh, queue)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	s.log.Info("runner started", logx.Int("workers", workers), logx.Int("queue_size", qs))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("runner stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) stateFor(taskID string) *runState {
	s.stateMu.Lock()
	st := s.states[taskID]
	if st == nil {
		st = &runState{}
		s.states[taskID] = st
	}
	s.stateMu.Unlock()
	return st
}

// Submit queues a registered task for execution.
//
// It is non-blocking: a full queue drops the submission with ErrQueueFull,
// and a task that is already queued or running is skipped.
func (s *Service) Submit(taskID string) error {
	taskID = strings.TrimSpace(taskID)

	s.mu.Lock()
	cfg := s.cfg
	q := s.queue
	h := s.handlers[taskID]
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	if h == nil {
		return ErrUnknownTask
	}

	st := s.stateFor(taskID)
	if !st.tryAcquire() {
		now := time.Now()
		s.log.Debug("task skipped (overlap)", logx.String("task", taskID))
		s.publish(eventbus.TypeTaskSkipped, now, task.Result{TaskID: taskID, ExecutedAt: now, Errors: map[string]string{"skip": "overlap"}})
		return ErrOverlapSkip
	}

	qr := queuedRun{handler: h, state: st, timeout: cfg.DefaultTimeout, enqueued: time.Now()}
	select {
	case q <- qr:
		return nil
	default:
		st.release()
		atomic.AddUint64(&s.dropped, 1)
		now := time.Now()
		s.log.Warn("runner queue full; dropping task", logx.String("task", taskID), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		s.publish(eventbus.TypeTaskDropped, now, task.Result{TaskID: taskID, ExecutedAt: now, Errors: map[string]string{"drop": "queue_full"}})
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, at time.Time, res task.Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: res})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	workers := s.cfg.Workers
	defTimeout := s.cfg.DefaultTimeout
	ql, qc := 0, 0
	if s.queue != nil {
		ql = len(s.queue)
		qc = cap(s.queue)
	}
	s.mu.Unlock()

	if workers <= 0 {
		workers = 2
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:        enabled,
		Workers:        workers,
		QueueLen:       ql,
		QueueCap:       qc,
		Dropped:        atomic.LoadUint64(&s.dropped),
		DefaultTimeout: defTimeout,
		History:        hist,
	}
}
