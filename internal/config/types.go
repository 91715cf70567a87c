package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls which maintenance tasks get queued and when.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Runner controls execution settings for queued tasks.
	// If omitted, runtime defaults apply.
	Runner *RunnerConfig `json:"runner,omitempty"`

	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`

	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduling service.
//
// PreferredHour is the local hour of day (0..23) maintenance runs aim
// for; out-of-range values are clamped at apply time, never rejected.
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Timezone      string `json:"timezone,omitempty"`
	PreferredHour int    `json:"preferred_hour"`

	// StaleAfter is a Go duration string (e.g. "24h"). A saved checkpoint
	// older than this counts as abandoned. "0s" disables stale detection.
	StaleAfter string `json:"stale_after,omitempty"`

	// Tasks holds per-task overrides keyed by task id.
	Tasks map[string]TaskOverride `json:"tasks,omitempty"`
}

// TaskOverride is a per-task runtime override. Enabled is a pointer so an
// omitted flag falls back to the registry default.
type TaskOverride struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// RunnerConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
type RunnerConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`

	// DefaultTimeout bounds a single task run. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks queued longer than this. "0s" disables it.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// CacheConfig selects the cache backend and its key prefix.
//
// Driver "auto" (or empty) picks the best available backend at startup;
// "memory", "transient", "object" and "null" force a specific one.
type CacheConfig struct {
	Driver string `json:"driver,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// RateLimitConfig controls the fixed-window rate limiter.
type RateLimitConfig struct {
	// Limit is the number of operations allowed per window. 0 keeps the
	// built-in default.
	Limit int `json:"limit,omitempty"`
	// Window is a Go duration string; default "1m".
	Window string `json:"window,omitempty"`
	// LockAttempts caps lock acquisition tries on the fallback path.
	LockAttempts int `json:"lock_attempts,omitempty"`
	// LockBackoff is the base wait between lock attempts, e.g. "150ms".
	LockBackoff string `json:"lock_backoff,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// notifications stay disabled.
type NotifyConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	// WebhookURL receives task event payloads as JSON POSTs. Empty means
	// log-only delivery.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./janitord.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
