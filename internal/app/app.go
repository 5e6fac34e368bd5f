package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pogoscan/internal/config"
	"pogoscan/internal/control"
	"pogoscan/internal/eventbus"
	"pogoscan/internal/maintenance"
	"pogoscan/internal/mapclient"
	"pogoscan/internal/mapparse"
	"pogoscan/internal/model"
	"pogoscan/internal/notifier"
	"pogoscan/internal/runtime/supervisor"
	"pogoscan/internal/scan"
	"pogoscan/internal/storage"
	kit "pogoscan/internal/transport"
	"pogoscan/internal/transport/telegram"
	"pogoscan/internal/transport/webhook"
	logx "pogoscan/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store // nil when storage is disabled
	writer *storage.Writer

	notif  *notifier.Service
	alerts *notifier.SightingAlerts

	fleet    *scan.Fleet
	control  *control.Service
	maint    *maintenance.Service
	watchdog *watchdog
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: bus}

	if sc, wc, ok := mapStorageConfig(cfg); ok {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.writer = storage.NewWriter(st, wc, root)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	senders, err := buildSenders(cfg, root)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	// A nil storage.Store converts to a nil interface of every narrower type.
	a.notif = notifier.New(mapNotifierConfig(cfg), senders, root, bus, a.store)
	a.alerts = notifier.NewSightingAlerts(a.notif, mapAlertConfig(cfg), root)

	client, err := mapclient.New(mapClientConfig(cfg), root)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	dispOpts := mapparse.Options{
		Alerts:       a.alerts,
		IncludeForts: true,
		Log:          root,
	}
	if a.writer != nil {
		dispOpts.Records = a.writer
	}
	dispatcher := mapparse.New(dispOpts)

	queue := scan.NewQueue()
	pause := &scan.PauseFlag{}
	feed := &scan.LocationFeed{}

	overseer := scan.NewOverseer(mapOverseerConfig(cfg), scan.OverseerDeps{
		Queue:     queue,
		Pause:     pause,
		Locations: feed,
		Scheduler: mapSpawnBuilder(cfg, a.store, root),
		Lookup:    a.store,
		Bus:       bus,
		Log:       root,
	})

	newSession := func(acct model.Account) (scan.Session, error) {
		s, err := client.NewSession(acct)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	wcfg := mapWorkerConfig(cfg)
	workers := make([]*scan.Worker, 0, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		workers = append(workers, scan.NewWorker(i, acct, wcfg, scan.WorkerDeps{
			Queue:      queue,
			NewSession: newSession,
			Dispatcher: dispatcher,
			Pause:      pause,
			Passes:     overseer,
			Bus:        bus,
			Log:        root,
		}))
	}

	a.fleet = &scan.Fleet{Queue: queue, Overseer: overseer, Workers: workers, Pause: pause, Feed: feed}

	mdeps := maintenance.Deps{Report: a.fleet.Report, Store: a.store, Notifier: a.notif, Log: root}
	if a.writer != nil {
		mdeps.Writer = a.writer
	}
	a.maint = maintenance.New(mapMaintenanceConfig(cfg), mdeps)

	a.control = control.New(mapControlConfig(cfg), control.Deps{
		Fleet:    a.fleet,
		Bus:      bus,
		Sections: a.statusSections(),
	}, root)

	return a, nil
}

func buildSenders(cfg *config.Config, log logx.Logger) ([]kit.Sender, error) {
	var out []kit.Sender
	if tc, ok := mapTelegramConfig(cfg); ok {
		s, err := telegram.New(tc, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		out = append(out, s)
	}
	if wc, ok := mapWebhookConfig(cfg); ok {
		s, err := webhook.New(wc, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *App) statusSections() map[string]func() any {
	m := map[string]func() any{
		"notifier":    func() any { return a.notif.Stats() },
		"maintenance": func() any { return a.maint.Runs() },
		"log":         func() any { return a.logs.Recent() },
		"supervisor": func() any {
			if a.sup == nil {
				return nil
			}
			return a.sup.Snapshot()
		},
	}
	if a.writer != nil {
		m["storage"] = func() any {
			written, dropped := a.writer.Stats()
			return map[string]any{"written": written, "dropped": dropped, "backlog": a.writer.Len()}
		}
	}
	return m
}

// Fleet exposes the scan components (status readers, tests).
func (a *App) Fleet() *scan.Fleet { return a.fleet }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		// Schedules and timezone are only parsed by cron; reject them here
		// so a typo never reaches a running service.
		m := mapMaintenanceConfig(c)
		for _, s := range []string{m.StatusSchedule, m.PruneSchedule} {
			if strings.TrimSpace(s) == "" {
				continue
			}
			if _, _, err := maintenance.ParseSchedule(s); err != nil {
				return err
			}
		}
		if tz := strings.TrimSpace(m.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if a.notif.Enabled() {
		a.notif.Start(sctx)
	}
	if cfg.Notifier != nil && cfg.Notifier.AlertCooldowns {
		a.sup.Go("notifier.cooldowns", func(c context.Context) error {
			return a.notif.ForwardCooldowns(c, a.bus)
		})
	}

	if a.writer != nil {
		a.sup.Go("storage.writer", a.writer.Run)
	}

	// Initial signals come from the config; later ones from reloads and
	// the control API.
	if loc := cfg.Scan.Location; loc != nil {
		a.fleet.Feed.Push(*loc)
	}
	a.fleet.Pause.Set(cfg.Scan.Paused)

	a.sup.GoRestart("overseer", a.fleet.Overseer.Run)
	for i, w := range a.fleet.Workers {
		a.sup.GoRestart(fmt.Sprintf("worker.%d", i), w.Run)
	}
	a.log.Info("scan fleet started",
		logx.Int("workers", len(a.fleet.Workers)),
		logx.String("method", a.fleet.Overseer.Snapshot().Method),
		logx.Bool("paused", cfg.Scan.Paused),
	)

	if a.control.Enabled() {
		a.control.Start(sctx)
	}
	if err := a.maint.Start(sctx); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("eventbus.log", func(c context.Context) error {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.watchdog = startWatchdog(a.sup, a.log)
	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable sections of next.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(sections, ",")
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(next))
		case "scan.location":
			if loc := next.Scan.Location; loc != nil {
				a.fleet.Feed.Push(*loc)
			}
		case "scan.paused":
			a.fleet.Pause.Set(next.Scan.Paused)
		case "notifier":
			a.applyNotifier(ctx, next)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	was := a.notif.Enabled()
	ncfg := mapNotifierConfig(cfg)
	a.notif.Apply(ncfg)
	a.alerts.Apply(mapAlertConfig(cfg))
	switch {
	case was && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !was && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.watchdog.stopping()

	// Workers, overseer and the writer all watch this context.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("control", 2*time.Second, func(c context.Context) error { a.control.Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	// The writer flushes its backlog before the supervisor reports done.
	step("supervisor", 8*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store = nil
	return st.Close()
}
