package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"janitord/internal/task"
	logx "janitord/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	host     Host
	progress *task.Progress

	registry []RegistryEntry
	byID     map[string]RegistryEntry

	parser cron.Parser
	now    func() time.Time
}

func New(cfg Config, registry []RegistryEntry, host Host, progress *task.Progress, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	byID := make(map[string]RegistryEntry, len(registry))
	for _, e := range registry {
		byID[e.TaskID] = e
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		host:     host,
		progress: progress,
		registry: append([]RegistryEntry(nil), registry...),
		byID:     byID,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Enabled reports the global scheduler flag. (Thread-safe; Apply() may run
// concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// StaleAfter reports the current stale-checkpoint threshold.
func (s *Service) StaleAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.StaleAfter
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) snapshotCfg() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// KnownTaskIDs lists the static registry in registration order.
func (s *Service) KnownTaskIDs() []string {
	out := make([]string, 0, len(s.registry))
	for _, e := range s.registry {
		out = append(out, e.TaskID)
	}
	return out
}

// TaskEntry returns the registry entry for a task id; ok=false for unknown
// ids (a configuration error, surfaced as an empty result, never thrown).
func (s *Service) TaskEntry(taskID string) (RegistryEntry, bool) {
	e, ok := s.byID[taskID]
	return e, ok
}

// taskEnabled resolves a task's effective enable flag and frequency from
// the registry defaults plus any runtime override.
func (s *Service) taskEnabled(cfg Config, e RegistryEntry) (enabled bool, freq string) {
	enabled = e.DefaultEnabled
	freq = e.DefaultFrequency
	if tc, ok := cfg.Tasks[e.TaskID]; ok {
		if tc.Enabled != nil {
			enabled = *tc.Enabled
		}
		if f := strings.TrimSpace(tc.Frequency); f != "" {
			freq = f
		}
	}
	if strings.TrimSpace(freq) == "" {
		freq = FreqDaily
	}
	return enabled, freq
}

// ActionSchedulerAvailable probes whether the host backend advertises a
// higher-capacity action queue. Informational only.
func (s *Service) ActionSchedulerAvailable() bool {
	bh, ok := s.host.(BulkHost)
	return ok && bh.SupportsBulk()
}

func (s *Service) location(cfg Config) *time.Location {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
