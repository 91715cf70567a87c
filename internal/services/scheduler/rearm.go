package scheduler

import (
	"context"
	"fmt"
	"time"

	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

// Rearm queues the follow-up run for a task that just finished a slice.
//
// An interrupted slice resumes at the time its result asked for; a completed
// run advances one frequency interval past its execution time. Disabled
// tasks get nothing queued and a zero time back.
func (s *Service) Rearm(ctx context.Context, res task.Result) (time.Time, error) {
	cfg := s.snapshotCfg()
	if !cfg.Enabled {
		return time.Time{}, nil
	}
	e, ok := s.byID[res.TaskID]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown task %q", res.TaskID)
	}
	enabled, freq := s.taskEnabled(cfg, e)
	if !enabled || freq == FreqDisabled {
		return time.Time{}, nil
	}

	var at time.Time
	if res.Interrupted && !res.NextRun.IsZero() {
		at = res.NextRun
	} else {
		after := res.ExecutedAt
		if after.IsZero() {
			after = s.now()
		}
		var err error
		at, err = s.NextRunAfter(freq, after)
		if err != nil {
			return time.Time{}, err
		}
	}

	if err := s.host.Schedule(ctx, res.TaskID, at); err != nil {
		return time.Time{}, err
	}
	s.log.Debug("task re-armed",
		logx.String("task", res.TaskID),
		logx.Time("at", at),
		logx.Bool("resume", res.Interrupted))
	return at, nil
}
