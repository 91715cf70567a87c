package scheduler

import (
	"context"

	logx "janitord/pkg/logx"
)

// ScheduleInitialTasks walks the registry and hands every eligible task to
// the host scheduler.
//
// A task is skipped when the global scheduler flag is off, when its own
// enable flag is off, or when its frequency is the "disabled" sentinel.
// One task's scheduling error never prevents attempting the rest.
func (s *Service) ScheduleInitialTasks(ctx context.Context) Report {
	cfg := s.snapshotCfg()
	rep := newReport()

	for _, e := range s.registry {
		if !cfg.Enabled {
			rep.Skipped = append(rep.Skipped, e.TaskID)
			continue
		}
		enabled, freq := s.taskEnabled(cfg, e)
		if !enabled || freq == FreqDisabled {
			rep.Skipped = append(rep.Skipped, e.TaskID)
			continue
		}
		at, err := s.NextOccurrence(freq)
		if err != nil {
			rep.Errors[e.TaskID] = err.Error()
			continue
		}
		if err := s.host.Schedule(ctx, e.TaskID, at); err != nil {
			rep.Errors[e.TaskID] = err.Error()
			continue
		}
		rep.Scheduled = append(rep.Scheduled, e.TaskID)
		s.log.Debug("task scheduled", logx.String("task", e.TaskID), logx.Time("at", at), logx.String("freq", freq))
	}

	s.log.Info("initial scheduling pass done",
		logx.Int("scheduled", len(rep.Scheduled)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Int("errors", len(rep.Errors)))
	return rep
}

// Reconcile compares desired state (current settings) against what the host
// scheduler actually has queued and corrects drift: missing tasks are
// rescheduled, disabled ones removed. Tasks with a stale checkpoint are
// flagged and re-queued so an abandoned run gets picked up again.
func (s *Service) Reconcile(ctx context.Context) Report {
	cfg := s.snapshotCfg()
	rep := newReport()

	actual, err := s.host.ListScheduled(ctx)
	if err != nil {
		rep.Errors["_list"] = err.Error()
		return rep
	}

	for _, e := range s.registry {
		enabled, freq := s.taskEnabled(cfg, e)
		desired := cfg.Enabled && enabled && freq != FreqDisabled
		_, queued := actual[e.TaskID]

		switch {
		case desired && !queued:
			at, err := s.NextOccurrence(freq)
			if err != nil {
				rep.Errors[e.TaskID] = err.Error()
				continue
			}
			if err := s.host.Schedule(ctx, e.TaskID, at); err != nil {
				rep.Errors[e.TaskID] = err.Error()
				continue
			}
			rep.Scheduled = append(rep.Scheduled, e.TaskID)
			s.log.Info("rescheduled missing task", logx.String("task", e.TaskID), logx.Time("at", at))
		case !desired && queued:
			if err := s.host.Unschedule(ctx, e.TaskID); err != nil {
				rep.Errors[e.TaskID] = err.Error()
				continue
			}
			rep.Removed = append(rep.Removed, e.TaskID)
			s.log.Info("removed disabled task", logx.String("task", e.TaskID))
		default:
			rep.Skipped = append(rep.Skipped, e.TaskID)
		}

		if desired && cfg.StaleAfter > 0 && s.progress != nil {
			ps := s.progress.ForTask(e.TaskID)
			if ps.HasProgress(ctx) && ps.IsStale(ctx, cfg.StaleAfter) {
				rep.Stale = append(rep.Stale, e.TaskID)
				s.log.Warn("stale checkpoint detected", logx.String("task", e.TaskID))
			}
		}
	}
	return rep
}
