package scheduler

import (
	"strings"
	"testing"
	"time"

	logx "janitord/pkg/logx"
)

func newTestService(t *testing.T, cfg Config, reg []RegistryEntry, host Host) *Service {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return New(cfg, reg, host, nil, logx.Nop())
}

func TestNextRunTimePreferredHour(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, PreferredHour: 4}, nil, nil)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before preferred hour runs today",
			now:  time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "after preferred hour runs tomorrow",
			now:  time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at preferred hour runs tomorrow",
			now:  time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s.SetClock(func() time.Time { return tt.now })
			if got := s.NextRunTime(); !got.Equal(tt.want) {
				t.Fatalf("NextRunTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunTimeClampsHour(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, nil, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if got := s.NextRunTime(25); got.Hour() != 23 {
		t.Fatalf("hour 25 clamped to %d, want 23", got.Hour())
	}
	if got := s.NextRunTime(-5); got.Hour() != 0 {
		t.Fatalf("hour -5 clamped to %d, want 0", got.Hour())
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, PreferredHour: 3}, nil, nil)
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	got, err := s.NextOccurrence(FreqDaily)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if want := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("daily = %v, want %v", got, want)
	}

	// weekly and monthly land on the same first occurrence; the interval
	// only matters for follow-up runs.
	if _, err := s.NextOccurrence(FreqWeekly); err != nil {
		t.Fatalf("weekly: %v", err)
	}

	if _, err := s.NextOccurrence(FreqDisabled); err == nil {
		t.Fatal("disabled frequency has no occurrence")
	}
	if _, err := s.NextOccurrence("yearly"); err == nil {
		t.Fatal("unknown frequency accepted")
	}
}

func TestNextOccurrenceCron(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, nil, nil)
	now := time.Date(2026, 3, 10, 1, 10, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	got, err := s.NextOccurrence("cron:30 2 * * *")
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	if want := time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("cron = %v, want %v", got, want)
	}

	// Six fields means seconds are accepted too.
	if _, err := s.NextOccurrence("cron:15 30 2 * * *"); err != nil {
		t.Fatalf("seconds cron: %v", err)
	}

	_, err = s.NextOccurrence("cron:not a spec")
	if err == nil || !strings.Contains(err.Error(), "invalid cron spec") {
		t.Fatalf("bad cron error = %v", err)
	}
}

func TestNextRunAfter(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, PreferredHour: 4}, nil, nil)
	executed := time.Date(2026, 3, 10, 4, 12, 0, 0, time.UTC)

	tests := []struct {
		freq string
		want time.Time
	}{
		{FreqDaily, time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)},
		{FreqWeekly, time.Date(2026, 3, 17, 4, 0, 0, 0, time.UTC)},
		{FreqMonthly, time.Date(2026, 4, 10, 4, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := s.NextRunAfter(tt.freq, executed)
		if err != nil {
			t.Fatalf("%s: %v", tt.freq, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s = %v, want %v", tt.freq, got, tt.want)
		}
	}

	if _, err := s.NextRunAfter(FreqDisabled, executed); err == nil {
		t.Fatal("disabled frequency accepted")
	}
}

func TestTaskEnabledOverrides(t *testing.T) {
	t.Parallel()
	reg := []RegistryEntry{{TaskID: "gc", DefaultEnabled: true, DefaultFrequency: FreqDaily}}
	s := newTestService(t, Config{Enabled: true}, reg, nil)

	// No override: registry defaults apply.
	enabled, freq := s.taskEnabled(s.snapshotCfg(), reg[0])
	if !enabled || freq != FreqDaily {
		t.Fatalf("defaults: enabled=%v freq=%s", enabled, freq)
	}

	off := false
	s.Apply(Config{Enabled: true, Timezone: "UTC", Tasks: map[string]TaskConfig{
		"gc": {Enabled: &off, Frequency: FreqWeekly},
	}})
	enabled, freq = s.taskEnabled(s.snapshotCfg(), reg[0])
	if enabled || freq != FreqWeekly {
		t.Fatalf("override: enabled=%v freq=%s", enabled, freq)
	}

	// Blank frequency override falls back to the registry default.
	s.Apply(Config{Enabled: true, Timezone: "UTC", Tasks: map[string]TaskConfig{
		"gc": {Frequency: "  "},
	}})
	if _, freq = s.taskEnabled(s.snapshotCfg(), reg[0]); freq != FreqDaily {
		t.Fatalf("blank override freq = %s, want daily", freq)
	}
}
