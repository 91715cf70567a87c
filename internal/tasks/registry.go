// Package tasks holds the built-in maintenance tasks that ship with the
// daemon: garbage collection for expired transient cache entries and a
// sweep for abandoned progress checkpoints.
package tasks

import (
	"janitord/internal/services/scheduler"
)

// Built-in task ids.
const (
	TaskTransientGC   = "transient_gc"
	TaskProgressSweep = "progress_sweep"
)

// Registry returns the static entries for the built-in tasks: their ids and
// the defaults that apply when config has no override.
func Registry() []scheduler.RegistryEntry {
	return []scheduler.RegistryEntry{
		{TaskID: TaskTransientGC, DefaultEnabled: true, DefaultFrequency: scheduler.FreqDaily},
		{TaskID: TaskProgressSweep, DefaultEnabled: true, DefaultFrequency: scheduler.FreqWeekly},
	}
}
