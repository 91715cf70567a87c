package notify

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// WebhookURL receives notifications as JSON POSTs; empty means log-only.
	WebhookURL string
}

// Notification is one outbound message about a task lifecycle event.
type Notification struct {
	Event    string `json:"event"`
	TaskID   string `json:"task_id"`
	Severity string `json:"severity"`
	Text     string `json:"text"`

	// Counters copied from the task result, for webhook consumers.
	ItemsCleaned int   `json:"items_cleaned,omitempty"`
	BytesFreed   int64 `json:"bytes_freed,omitempty"`
}

const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityAlert = "alert"
)

// NotificationEvent is published on the bus for pipeline observability.
type NotificationEvent struct {
	Event  string    `json:"event"`
	TaskID string    `json:"task_id"`
	Key    string    `json:"key,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

// HistoryItem is one delivered notification kept for diagnostics.
type HistoryItem struct {
	At   time.Time
	Text string
}
