package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// NextRunTime returns the next absolute time, in the configured time zone,
// at which the preferred hour of day next occurs (today if the hour hasn't
// passed yet, otherwise tomorrow).
//
// With no argument the hour comes from configuration; an explicit argument
// is clamped to [0, 23].
func (s *Service) NextRunTime(preferredHour ...int) time.Time {
	cfg := s.snapshotCfg()
	hour := cfg.PreferredHour
	if len(preferredHour) > 0 {
		hour = preferredHour[0]
	}
	hour = clampHour(hour)

	loc := s.location(cfg)
	now := s.now().In(loc)

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextOccurrence computes the first run time for a frequency value.
// The "disabled" sentinel has no next occurrence.
func (s *Service) NextOccurrence(freq string) (time.Time, error) {
	freq = strings.TrimSpace(freq)
	switch {
	case freq == FreqDisabled:
		return time.Time{}, fmt.Errorf("frequency is disabled")
	case freq == FreqDaily, freq == FreqWeekly, freq == FreqMonthly:
		return s.NextRunTime(), nil
	case strings.HasPrefix(freq, cronPrefix):
		return s.nextCron(strings.TrimPrefix(freq, cronPrefix))
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", freq)
	}
}

// NextRunAfter computes the follow-up run once a task completed at "after":
// the frequency interval forward, landing on the preferred hour.
func (s *Service) NextRunAfter(freq string, after time.Time) (time.Time, error) {
	cfg := s.snapshotCfg()
	loc := s.location(cfg)
	hour := clampHour(cfg.PreferredHour)

	freq = strings.TrimSpace(freq)
	switch {
	case freq == FreqDisabled:
		return time.Time{}, fmt.Errorf("frequency is disabled")
	case strings.HasPrefix(freq, cronPrefix):
		return s.nextCron(strings.TrimPrefix(freq, cronPrefix))
	}

	base := after.In(loc)
	next := time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, loc)
	switch freq {
	case FreqDaily:
		next = next.AddDate(0, 0, 1)
	case FreqWeekly:
		next = next.AddDate(0, 0, 7)
	case FreqMonthly:
		next = next.AddDate(0, 1, 0)
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", freq)
	}
	return next, nil
}

func (s *Service) nextCron(spec string) (time.Time, error) {
	sched, err := s.parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	loc := s.location(s.snapshotCfg())
	return sched.Next(s.now().In(loc)), nil
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}
