package scheduler

import (
	"context"
	"time"
)

// Frequency values understood by the registry. "disabled" is a sentinel
// meaning "do not schedule", distinct from a task's enable flag being false.
// A "cron:<spec>" value selects an explicit cron schedule instead.
const (
	FreqDaily    = "daily"
	FreqWeekly   = "weekly"
	FreqMonthly  = "monthly"
	FreqDisabled = "disabled"

	cronPrefix = "cron:"
)

// RegistryEntry is one task's static configuration: its identifier and the
// defaults that apply when the runtime config does not override them.
// Every task id known to the service has exactly one entry.
type RegistryEntry struct {
	TaskID           string
	DefaultEnabled   bool
	DefaultFrequency string
}

// TaskConfig is a per-task runtime override. Enabled is a pointer so an
// omitted flag falls back to the registry default.
type TaskConfig struct {
	Enabled   *bool
	Frequency string
}

// Config controls the scheduling service.
type Config struct {
	// Enabled is the global scheduler flag; off means nothing is scheduled.
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
	// PreferredHour is the hour of day (0..23) maintenance runs aim for.
	PreferredHour int
	// StaleAfter marks a checkpoint abandoned when its last save is older.
	StaleAfter time.Duration
	// Tasks holds per-task overrides keyed by task id.
	Tasks map[string]TaskConfig
}

// Host is the contract on the host application's scheduling primitive.
// janitord only asks it to fire task ids at absolute times.
type Host interface {
	Schedule(ctx context.Context, taskID string, at time.Time) error
	Unschedule(ctx context.Context, taskID string) error
	IsScheduled(ctx context.Context, taskID string) (bool, error)
	ListScheduled(ctx context.Context) (map[string]time.Time, error)
}

// BulkHost marks host backends with a higher-capacity action queue.
// The probe is purely informational; correctness never depends on it.
type BulkHost interface {
	SupportsBulk() bool
}

// Report summarizes one scheduling or reconciliation pass. One task's
// failure never prevents attempting the rest.
type Report struct {
	Scheduled []string
	Skipped   []string
	Removed   []string
	Stale     []string
	Errors    map[string]string
}

func newReport() Report {
	return Report{Errors: map[string]string{}}
}
