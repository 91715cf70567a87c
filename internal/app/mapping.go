package app

import (
	"fmt"
	"strings"
	"time"

	"janitord/internal/config"
	"janitord/internal/ratelimit"
	"janitord/internal/services/notify"
	"janitord/internal/services/runner"
	"janitord/internal/services/scheduler"
	"janitord/internal/storage"
)

// The mapping helpers translate the decoded config file into the typed
// runtime configs, parsing duration strings once, up front. Every helper is
// also called from the reload validator so a bad hot-reload is rejected
// before anything applies it.

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	stale, err := config.ParseDurationField("scheduler.stale_after", cfg.Scheduler.StaleAfter)
	if err != nil {
		return scheduler.Config{}, err
	}
	tasks := make(map[string]scheduler.TaskConfig, len(cfg.Scheduler.Tasks))
	for id, tc := range cfg.Scheduler.Tasks {
		tasks[id] = scheduler.TaskConfig{Enabled: tc.Enabled, Frequency: tc.Frequency}
	}
	return scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Timezone:      cfg.Scheduler.Timezone,
		PreferredHour: cfg.Scheduler.PreferredHour,
		StaleAfter:    stale,
		Tasks:         tasks,
	}, nil
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	out := runner.Config{Enabled: cfg.Scheduler.Enabled}
	r := cfg.Runner
	if r == nil {
		return out, nil
	}
	if r.Enabled != nil {
		out.Enabled = *r.Enabled
	}
	if r.Workers < 0 {
		return out, fmt.Errorf("runner.workers must be >= 0")
	}
	if r.QueueSize < 0 {
		return out, fmt.Errorf("runner.queue_size must be >= 0")
	}
	if r.HistorySize < 0 {
		return out, fmt.Errorf("runner.history_size must be >= 0")
	}
	out.Workers = r.Workers
	out.QueueSize = r.QueueSize
	out.HistorySize = r.HistorySize

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("runner.default_timeout", r.DefaultTimeout); err != nil {
		return out, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("runner.max_queue_delay", r.MaxQueueDelay); err != nil {
		return out, err
	}
	return out, nil
}

func mapRateLimitConfig(cfg *config.Config) (ratelimit.Config, error) {
	window, err := config.ParseDurationField("rate_limit.window", cfg.RateLimit.Window)
	if err != nil {
		return ratelimit.Config{}, err
	}
	backoff, err := config.ParseDurationField("rate_limit.lock_backoff", cfg.RateLimit.LockBackoff)
	if err != nil {
		return ratelimit.Config{}, err
	}
	if cfg.RateLimit.Limit < 0 {
		return ratelimit.Config{}, fmt.Errorf("rate_limit.limit must be >= 0")
	}
	return ratelimit.Config{
		Limit:        cfg.RateLimit.Limit,
		Window:       window,
		LockAttempts: cfg.RateLimit.LockAttempts,
		LockBackoff:  backoff,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	n := cfg.Notify
	if n == nil {
		return notify.Config{}, nil
	}
	out := notify.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		WebhookURL:      strings.TrimSpace(n.WebhookURL),
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notify.retry_base", n.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notify.retry_max_delay", n.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notify.dedup_window", n.DedupWindow); err != nil {
		return out, err
	}
	return out, nil
}

func validateTimezone(cfg *config.Config) error {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
