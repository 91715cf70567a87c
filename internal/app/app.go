// Package app wires the daemon together: config, logging, storage, cache,
// rate limiting, scheduling, the task runner, and notifications.
package app

import (
	"context"
	"strings"
	"time"

	"janitord/internal/cache"
	"janitord/internal/config"
	"janitord/internal/eventbus"
	"janitord/internal/ratelimit"
	"janitord/internal/runtime/supervisor"
	"janitord/internal/services/notify"
	"janitord/internal/services/runner"
	"janitord/internal/services/scheduler"
	"janitord/internal/services/timersched"
	"janitord/internal/storage"
	"janitord/internal/task"
	"janitord/internal/tasks"
	logx "janitord/pkg/logx"
)

const defaultCachePrefix = "janitord_"

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	caches   *cache.Factory
	limiter  *ratelimit.Limiter
	progress *task.Progress

	sched  *scheduler.Service
	runner *runner.Service
	timers *timersched.Service
	notif  *notify.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	prefix := strings.TrimSpace(cfg.Cache.Prefix)
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	caches := cache.NewFactory(cache.Deps{
		Store: store,
		Log:   log.With(logx.String("comp", "cache")),
	}, prefix)
	if err := applyCacheDriver(caches, cfg.Cache.Driver, prefix, store, log); err != nil {
		return nil, err
	}

	rlCfg, err := mapRateLimitConfig(cfg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(rlCfg, caches.Instance(), store, log.With(logx.String("comp", "ratelimit")))

	progress := task.NewProgress(store, log.With(logx.String("comp", "progress")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	timers := timersched.New(store, nil, log.With(logx.String("comp", "timers")))
	sched := scheduler.New(schedCfg, tasks.Registry(), timers, progress, log.With(logx.String("comp", "scheduler")))

	runCfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	run := runner.New(runCfg, progress, sched, bus, log.With(logx.String("comp", "runner")))
	timers.SetSink(run)

	// Built-in maintenance tasks.
	run.Register(tasks.NewTransientGC(store, prefix, log.With(logx.String("comp", "transient_gc"))))
	run.Register(tasks.NewProgressSweep(sched.StaleAfter, log.With(logx.String("comp", "progress_sweep"))))

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifLog := log.With(logx.String("comp", "notify"))
	notif := notify.New(ncfg, notify.NewSender(ncfg, notifLog), bus, notifLog)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		caches:   caches,
		limiter:  limiter,
		progress: progress,
		sched:    sched,
		runner:   run,
		timers:   timers,
		notif:    notif,
	}, nil
}

// applyCacheDriver forces a specific backend when config names one. "auto"
// (or empty) leaves selection to the factory's capability probe.
func applyCacheDriver(f *cache.Factory, driver, prefix string, store storage.Store, log logx.Logger) error {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "auto", "object":
		// No host object cache in the standalone daemon; the factory falls
		// through to transient or memory on its own.
		return nil
	case cache.TypeTransient:
		if store == nil {
			log.Warn("cache.driver transient requires storage; falling back to memory")
			f.SetInstance(cache.NewMemory(prefix))
			return nil
		}
		f.SetInstance(cache.NewTransient(store, prefix, log))
		return nil
	case cache.TypeMemory:
		f.SetInstance(cache.NewMemory(prefix))
		return nil
	case cache.TypeNull:
		f.SetInstance(cache.NewNull())
		return nil
	default:
		log.Warn("unknown cache.driver; using auto selection", logx.String("driver", driver))
		return nil
	}
}

// Cache returns the process-wide default cache instance.
func (a *App) Cache() cache.Cache { return a.caches.Instance() }

// Limiter returns the request rate limiter for host integrations.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Runner exposes the task runner (registration, diagnostics).
func (a *App) Runner() *runner.Service { return a.runner }

// Scheduler exposes the scheduling service.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRunnerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRateLimitConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		return validateTimezone(cfg)
	})

	if a.runner.Enabled() {
		a.runner.Start(runCtx)
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
		a.sup.Go0("notify.watch", func(c context.Context) {
			a.notif.WatchTasks(c, a.bus)
		})
	}

	if err := a.timers.Start(runCtx); err != nil {
		return err
	}

	// First boot (no persisted schedules) seeds the timer table; any later
	// boot reconciles restored timers against current settings instead, so
	// resume times survive a restart.
	if queued, err := a.timers.ListScheduled(runCtx); err == nil && len(queued) == 0 {
		rep := a.sched.ScheduleInitialTasks(runCtx)
		a.logReport("initial scheduling", rep)
	} else {
		rep := a.sched.Reconcile(runCtx)
		a.logReport("schedule reconcile", rep)
	}

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("config.reload", a.reloadLoop)

	a.log.Info("started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("runner", a.runner.Enabled()),
		logx.String("cache", a.caches.Instance().BackendType()),
		logx.Bool("storage", a.store != nil))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.timers.Stop(ctx)
	if a.runner != nil {
		a.runner.Stop(ctx)
	}
	if a.notif != nil {
		a.notif.Stop(ctx)
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) logReport(what string, rep scheduler.Report) {
	a.log.Info(what+" done",
		logx.Int("scheduled", len(rep.Scheduled)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Int("removed", len(rep.Removed)),
		logx.Int("stale", len(rep.Stale)),
		logx.Int("errors", len(rep.Errors)))
	for id, msg := range rep.Errors {
		a.log.Warn("scheduling error", logx.String("task", id), logx.String("err", msg))
	}
}

// reloadLoop applies hot-reloaded config to the live services.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, taskChanged := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Debug("config change summary", fields...)
			lastApplied = newCfg

			a.applyReload(c, newCfg, sections, taskChanged)
		}
	}
}

func (a *App) applyReload(c context.Context, cfg *config.Config, sections []string, taskChanged []string) {
	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if has("logging") {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	// Storage, cache, and rate limit wiring is fixed at startup.
	for _, s := range sections {
		if s == "storage" || s == "cache" || s == "rate_limit" {
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if has("scheduler") || len(taskChanged) > 0 {
		schedCfg, err := mapSchedulerConfig(cfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Any("err", err))
		} else {
			a.sched.Apply(schedCfg)
			rep := a.sched.Reconcile(c)
			a.logReport("schedule reconcile", rep)
		}
	}

	if has("runner") || has("scheduler") {
		prevEnabled := a.runner.Enabled()
		runCfg, err := mapRunnerConfig(cfg)
		if err != nil {
			a.log.Warn("invalid runner config; keeping previous", logx.Any("err", err))
		} else {
			a.runner.Apply(runCfg)
			if prevEnabled && !runCfg.Enabled {
				a.log.Info("runner disabled via config")
				stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
				a.runner.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && runCfg.Enabled {
				a.log.Info("runner enabled via config")
				a.runner.Start(c)
			}
		}
	}

	if has("notify") {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifyConfig(cfg)
		if err != nil {
			a.log.Warn("invalid notify config; keeping previous", logx.Any("err", err))
		} else {
			a.notif.Apply(ncfg)
			if prevEnabled && !ncfg.Enabled {
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && ncfg.Enabled {
				a.log.Info("notifier enabled via config")
				a.notif.Start(c)
			}
		}
	}
}
