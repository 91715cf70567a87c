package runner

import (
	"fmt"
	"runtime/debug"
	"time"

	"context"

	"janitord/internal/eventbus"
	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedRun) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qr := <-queue:
			s.execOne(ctx, qr)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qr queuedRun) {
	taskID := qr.handler.ID()
	defer qr.state.release()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	// Stale submissions (queued longer than MaxQueueDelay) are dropped, not run.
	if cfg.MaxQueueDelay > 0 && time.Since(qr.enqueued) > cfg.MaxQueueDelay {
		now := time.Now()
		s.log.Warn("dropping stale queued task",
			logx.String("task", taskID),
			logx.Duration("queued_for", now.Sub(qr.enqueued)))
		s.publish(eventbus.TypeTaskDropped, now, task.Result{TaskID: taskID, ExecutedAt: now, Errors: map[string]string{"drop": "stale_queue"}})
		return
	}

	start := time.Now()
	s.publish(eventbus.TypeTaskStarted, start, task.Result{TaskID: taskID, ExecutedAt: start})

	runCtx := ctx
	var cancel context.CancelFunc
	if qr.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qr.timeout)
	}
	res := s.runHandler(runCtx, qr.handler)
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	if res.Elapsed <= 0 {
		res = res.With(task.Patch{Elapsed: &dur})
	}

	switch {
	case res.Interrupted:
		s.log.Info("task interrupted; will resume",
			logx.String("task", taskID),
			logx.Int("cleaned", res.ItemsCleaned),
			logx.Time("resume_at", res.NextRun),
			logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskInterrupted, time.Now(), res)
	case res.Success:
		// A finished run's checkpoint is spent; the next cycle starts fresh.
		if s.progress != nil {
			s.progress.ForTask(taskID).Clear(ctx)
		}
		s.log.Info("task completed",
			logx.String("task", taskID),
			logx.Int("found", res.ItemsFound),
			logx.Int("cleaned", res.ItemsCleaned),
			logx.Int64("bytes_freed", res.BytesFreed),
			logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFinished, time.Now(), res)
	default:
		s.log.Warn("task failed",
			logx.String("task", taskID),
			logx.Int("errors", len(res.Errors)),
			logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFailed, time.Now(), res)
	}

	if s.rearmer != nil {
		if at, err := s.rearmer.Rearm(ctx, res); err != nil {
			s.log.Warn("re-arm failed", logx.String("task", taskID), logx.Err(err))
		} else if !at.IsZero() {
			s.log.Debug("next run queued", logx.String("task", taskID), logx.Time("at", at))
		}
	}

	item := HistoryItem{
		TaskID:       taskID,
		Started:      start,
		Duration:     dur,
		ItemsCleaned: res.ItemsCleaned,
		BytesFreed:   res.BytesFreed,
		Interrupted:  res.Interrupted,
	}
	if !res.Success && len(res.Errors) > 0 {
		for k, v := range res.Errors {
			item.Error = k + ": " + v
			break
		}
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 100
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// runHandler isolates handler panics: a panicking task yields a failed
// result instead of killing the worker.
func (s *Service) runHandler(ctx context.Context, h Handler) (res task.Result) {
	taskID := h.ID()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in task handler",
				logx.String("task", taskID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			res = task.Failure(taskID, map[string]string{"panic": fmt.Sprint(r)}, 0)
		}
	}()

	var checkpoint *task.Progress
	if s.progress != nil {
		checkpoint = s.progress.ForTask(taskID)
	} else {
		checkpoint = task.NewProgress(nil, s.log).ForTask(taskID)
	}
	return h.Run(ctx, checkpoint)
}
