package notify

import (
	"context"
	"fmt"

	"janitord/internal/eventbus"
	"janitord/internal/task"
)

// WatchTasks subscribes to task lifecycle events and feeds them into the
// pipeline. It blocks until ctx is done; run it in its own goroutine.
func (s *Service) WatchTasks(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n, ok := notificationFor(ev)
			if !ok {
				continue
			}
			// Queue-full and disabled are expected drop paths here.
			_ = s.Notify(ctx, n)
		}
	}
}

func notificationFor(ev eventbus.Event) (Notification, bool) {
	res, ok := ev.Data.(task.Result)
	if !ok {
		return Notification{}, false
	}
	n := Notification{
		Event:        ev.Type,
		TaskID:       res.TaskID,
		ItemsCleaned: res.ItemsCleaned,
		BytesFreed:   res.BytesFreed,
	}
	switch ev.Type {
	case eventbus.TypeTaskFinished:
		n.Severity = SeverityInfo
		n.Text = fmt.Sprintf("maintenance task %s completed: %d cleaned, %d bytes freed", res.TaskID, res.ItemsCleaned, res.BytesFreed)
	case eventbus.TypeTaskInterrupted:
		n.Severity = SeverityWarn
		n.Text = fmt.Sprintf("maintenance task %s interrupted after %d items; resumes %s", res.TaskID, res.ItemsCleaned, res.NextRun.Format("2006-01-02 15:04:05"))
	case eventbus.TypeTaskFailed:
		n.Severity = SeverityAlert
		n.Text = fmt.Sprintf("maintenance task %s failed (%d errors)", res.TaskID, len(res.Errors))
	default:
		// started/skipped/dropped are log-level noise, not notifications
		return Notification{}, false
	}
	return n, true
}
