// Package timersched is the in-process scheduling backend: a table of
// one-shot timers keyed by task id, optionally persisted so queued fire
// times survive a restart.
package timersched

import (
	"context"
	"strings"
	"sync"
	"time"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// Persisted fire times live under one namespace in the durable store.
const scheduleKeyPrefix = "sched_"

// Sink receives task ids when their timer fires.
type Sink interface {
	Submit(taskID string) error
}

// Service maps task ids to pending one-shot timers. One pending fire per
// task id; scheduling again replaces the previous timer.
type Service struct {
	log   logx.Logger
	store storage.Store // nil means in-memory only
	sink  Sink

	tmu    sync.Mutex
	timers map[string]*time.Timer
	at     map[string]time.Time
	// ver lets a replaced or removed timer's callback detect it is stale.
	ver map[string]uint64

	started bool
}

func New(store storage.Store, sink Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		sink:   sink,
		timers: map[string]*time.Timer{},
		at:     map[string]time.Time{},
		ver:    map[string]uint64{},
	}
}

// SetSink installs the fire destination. Construction-order hook: the
// runner needs the scheduler, the scheduler needs this service, and this
// service needs the runner.
func (s *Service) SetSink(sink Sink) {
	s.tmu.Lock()
	s.sink = sink
	s.tmu.Unlock()
}

// Start rebuilds timers from persisted fire times. Entries already in the
// past fire immediately.
func (s *Service) Start(ctx context.Context) error {
	s.tmu.Lock()
	s.started = true
	s.tmu.Unlock()

	if s.store == nil {
		return nil
	}
	keys, err := s.store.ListKeys(ctx, scheduleKeyPrefix)
	if err != nil {
		return err
	}
	restored := 0
	for _, k := range keys {
		raw, ok, err := s.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339, raw)
		taskID := strings.TrimPrefix(k, scheduleKeyPrefix)
		if err != nil || taskID == "" {
			_ = s.store.Delete(ctx, k)
			continue
		}
		s.armLocked(taskID, at)
		restored++
	}
	if restored > 0 {
		s.log.Info("restored persisted schedules", logx.Int("count", restored))
	}
	return nil
}

// Stop cancels all pending timers. Persisted fire times stay in the store
// so the next Start can rebuild them.
func (s *Service) Stop(ctx context.Context) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.started = false
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
		delete(s.at, id)
		s.ver[id]++
	}
}

// Schedule arms (or re-arms) the one-shot timer for a task id.
func (s *Service) Schedule(ctx context.Context, taskID string, at time.Time) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" || at.IsZero() {
		return nil
	}
	if s.store != nil {
		if err := s.store.Put(ctx, scheduleKeyPrefix+taskID, at.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	s.tmu.Lock()
	s.armLocked(taskID, at)
	s.tmu.Unlock()
	s.log.Debug("timer armed", logx.String("task", taskID), logx.Time("at", at))
	return nil
}

// armLocked replaces any existing timer for the id. Call with tmu held.
func (s *Service) armLocked(taskID string, at time.Time) {
	if t, ok := s.timers[taskID]; ok {
		_ = t.Stop()
		delete(s.timers, taskID)
	}
	s.ver[taskID]++
	myVer := s.ver[taskID]
	s.at[taskID] = at

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[taskID] = time.AfterFunc(delay, func() {
		s.fire(taskID, myVer)
	})
}

func (s *Service) fire(taskID string, myVer uint64) {
	s.tmu.Lock()
	if s.ver[taskID] != myVer || !s.started {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, taskID)
	delete(s.at, taskID)
	sink := s.sink
	s.tmu.Unlock()

	// Drop the persisted entry first so a crash mid-fire cannot double-run
	// the task on restart.
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Delete(ctx, scheduleKeyPrefix+taskID); err != nil {
			s.log.Warn("persisted schedule delete failed", logx.String("task", taskID), logx.Err(err))
		}
		cancel()
	}

	if sink == nil {
		return
	}
	if err := sink.Submit(taskID); err != nil {
		s.log.Debug("timer fire not accepted", logx.String("task", taskID), logx.Err(err))
	}
}

func (s *Service) Unschedule(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	s.tmu.Lock()
	if t, ok := s.timers[taskID]; ok {
		_ = t.Stop()
		delete(s.timers, taskID)
		delete(s.at, taskID)
	}
	s.ver[taskID]++
	s.tmu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, scheduleKeyPrefix+taskID); err != nil {
			return err
		}
	}
	s.log.Debug("timer disarmed", logx.String("task", taskID))
	return nil
}

func (s *Service) IsScheduled(ctx context.Context, taskID string) (bool, error) {
	s.tmu.Lock()
	_, ok := s.at[strings.TrimSpace(taskID)]
	s.tmu.Unlock()
	return ok, nil
}

func (s *Service) ListScheduled(ctx context.Context) (map[string]time.Time, error) {
	s.tmu.Lock()
	out := make(map[string]time.Time, len(s.at))
	for id, at := range s.at {
		out[id] = at
	}
	s.tmu.Unlock()
	return out, nil
}

// SupportsBulk reports whether fire times are durably backed; a durable
// table tolerates bulk scheduling across restarts.
func (s *Service) SupportsBulk() bool { return s.store != nil }
