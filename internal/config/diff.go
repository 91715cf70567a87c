package config

import (
	"reflect"
	"sort"
	"strings"

	logx "janitord/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes webhook URLs),
// and (3) a list of task ids whose overrides changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler (triggers + per-task overrides)
	taskChanged := diffTasks(oldCfg.Scheduler.Tasks, newCfg.Scheduler.Tasks)
	schedChanged := oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.PreferredHour != newCfg.Scheduler.PreferredHour ||
		strings.TrimSpace(oldCfg.Scheduler.StaleAfter) != strings.TrimSpace(newCfg.Scheduler.StaleAfter)
	if schedChanged || len(taskChanged) > 0 {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.preferred_hour", newCfg.Scheduler.PreferredHour),
			logx.String("scheduler.stale_after", strings.TrimSpace(newCfg.Scheduler.StaleAfter)),
			logx.Int("scheduler.tasks_changed", len(taskChanged)),
		)
	}

	// Runner (executor). Section may be nil (omitted).
	oR := derefRunner(oldCfg.Runner)
	nR := derefRunner(newCfg.Runner)
	if (oldCfg.Runner != nil) != (newCfg.Runner != nil) || !reflect.DeepEqual(oR, nR) {
		changed = append(changed, "runner")

		enabledEffective := newCfg.Scheduler.Enabled
		enabledSet := false
		if newCfg.Runner != nil && newCfg.Runner.Enabled != nil {
			enabledSet = true
			enabledEffective = *newCfg.Runner.Enabled
		}
		attrs = append(attrs,
			logx.Bool("runner.present", newCfg.Runner != nil),
			logx.Bool("runner.enabled", enabledEffective),
			logx.Bool("runner.enabled_set", enabledSet),
			logx.Int("runner.workers", nR.Workers),
			logx.Int("runner.queue_size", nR.QueueSize),
			logx.String("runner.default_timeout", strings.TrimSpace(nR.DefaultTimeout)),
			logx.Int("runner.history_size", nR.HistorySize),
		)
	}

	// Cache
	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.driver", strings.TrimSpace(newCfg.Cache.Driver)),
			logx.String("cache.prefix", strings.TrimSpace(newCfg.Cache.Prefix)),
		)
	}

	// Rate limit
	if !reflect.DeepEqual(oldCfg.RateLimit, newCfg.RateLimit) {
		changed = append(changed, "rate_limit")
		attrs = append(attrs,
			logx.Int("rate_limit.limit", newCfg.RateLimit.Limit),
			logx.String("rate_limit.window", strings.TrimSpace(newCfg.RateLimit.Window)),
			logx.Int("rate_limit.lock_attempts", newCfg.RateLimit.LockAttempts),
		)
	}

	// Notify (never log the webhook URL; it may carry credentials)
	oldN := oldCfg.Notify
	newN := newCfg.Notify
	if (oldN != nil) != (newN != nil) || (oldN != nil && newN != nil && !reflect.DeepEqual(*oldN, *newN)) {
		changed = append(changed, "notify")
		n := NotifyConfig{}
		if newN != nil {
			n = *newN
		}
		attrs = append(attrs,
			logx.Bool("notify.enabled", n.Enabled),
			logx.Int("notify.workers", n.Workers),
			logx.Int("notify.queue_size", n.QueueSize),
			logx.Int("notify.rate_per_sec", n.RatePerSec),
			logx.Bool("notify.webhook_set", strings.TrimSpace(n.WebhookURL) != ""),
		)
	}

	// Storage (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func derefRunner(r *RunnerConfig) RunnerConfig {
	if r == nil {
		return RunnerConfig{}
	}
	return *r
}

func diffTasks(oldM, newM map[string]TaskOverride) []string {
	if oldM == nil {
		oldM = map[string]TaskOverride{}
	}
	if newM == nil {
		newM = map[string]TaskOverride{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldM[id]
		n, nOK := newM[id]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
