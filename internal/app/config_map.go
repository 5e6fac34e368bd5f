package app

import (
	"strings"
	"time"

	"pogoscan/internal/config"
	"pogoscan/internal/control"
	"pogoscan/internal/geo"
	"pogoscan/internal/maintenance"
	"pogoscan/internal/mapclient"
	"pogoscan/internal/notifier"
	"pogoscan/internal/scan"
	"pogoscan/internal/spawn"
	"pogoscan/internal/storage"
	"pogoscan/internal/transport/telegram"
	"pogoscan/internal/transport/webhook"
	logx "pogoscan/pkg/logx"
)

// The mappers below expect a config that passed config.Validate, so
// malformed durations have already been rejected.

var dur = config.DurationOr

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig reports false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, storage.WriterConfig, bool) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, storage.WriterConfig{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, storage.WriterConfig{}, false
	}
	return storage.Config{
			Driver:      driver,
			Path:        strings.TrimSpace(sc.Path),
			BusyTimeout: dur(sc.BusyTimeout, time.Second),
			MaxConns:    sc.MaxConns,
		}, storage.WriterConfig{
			Buffer:        sc.QueueSize,
			BatchSize:     sc.BatchSize,
			FlushInterval: dur(sc.FlushInterval, 2*time.Second),
		}, true
}

func mapClientConfig(cfg *config.Config) mapclient.Config {
	return mapclient.Config{
		BaseURL:   cfg.Client.BaseURL,
		Timeout:   dur(cfg.Client.Timeout, 15*time.Second),
		UserAgent: cfg.Client.UserAgent,
	}
}

func mapOverseerConfig(cfg *config.Config) scan.OverseerConfig {
	s := cfg.Scan
	rings := s.StepLimit
	if rings <= 0 {
		rings = 5
	}
	return scan.OverseerConfig{
		Mode:              s.Mode,
		Rings:             rings,
		NoPokemon:         s.NoPokemon,
		SpawnPointsOnly:   s.SpawnpointsOnly,
		Tick:              dur(s.Tick, time.Second),
		ScheduleRetryBase: dur(s.ScheduleRetryBase, 5*time.Second),
		ScheduleRetryMax:  dur(s.ScheduleRetryMax, 5*time.Minute),
	}
}

func mapSpawnBuilder(cfg *config.Config, store spawn.Store, log logx.Logger) *spawn.Builder {
	step := geo.StepPokemonKm
	if cfg.Scan.NoPokemon {
		step = geo.StepFortsKm
	}
	return &spawn.Builder{
		File:       cfg.Scan.SpawnpointFile,
		Store:      store,
		StepKm:     step,
		SpawnDelay: dur(cfg.Scan.SpawnDelay, 0),
		Window:     dur(cfg.Scan.SpawnWindow, 15*time.Minute),
		Log:        log.With(logx.String("comp", "spawn")),
	}
}

func mapWorkerConfig(cfg *config.Config) scan.WorkerConfig {
	s := cfg.Scan
	var jitter float64
	if s.Jitter {
		jitter = s.JitterMeters
		if jitter <= 0 {
			jitter = 10
		}
	}
	retries := s.LoginRetries
	if retries <= 0 {
		retries = 3
	}
	maxFailures := 5
	if s.MaxFailures != nil {
		maxFailures = *s.MaxFailures
	}
	return scan.WorkerConfig{
		ScanDelay:       dur(s.ScanDelay, 10*time.Second),
		LoginRetries:    retries,
		LoginDelay:      dur(s.LoginDelay, 6*time.Second),
		MaxFailures:     maxFailures,
		Cooldown:        dur(s.Cooldown, 2*time.Hour),
		CooldownRefresh: dur(s.CooldownRefresh, 5*time.Minute),
		JitterMeters:    jitter,
		StaggerStep:     dur(s.Stagger, time.Second),
	}
}

// mapNotifierConfig mirrors the runtime defaults of a missing section:
// enabled whenever a sender is configured.
func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: cfg.Telegram != nil || cfg.Webhook != nil}
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       dur(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   dur(n.RetryMaxDelay, 10*time.Second),
		DedupWindow:     dur(n.DedupWindow, time.Minute),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

func mapAlertConfig(cfg *config.Config) notifier.AlertConfig {
	n := cfg.Notifier
	if n == nil {
		return notifier.AlertConfig{}
	}
	prio := n.AlertPriority
	if prio == 0 {
		prio = 5
	}
	return notifier.AlertConfig{
		Pokemon:      append([]int(nil), n.AlertPokemon...),
		MinRemaining: dur(n.AlertMinRemaining, 0),
		Priority:     prio,
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if t == nil {
		return telegram.Config{}, false
	}
	return telegram.Config{
		Token:        t.Token,
		APIURL:       t.APIURL,
		ChatID:       t.ChatID,
		ThreadID:     t.ThreadID,
		SendLocation: t.SendLocation,
		ParseMode:    t.ParseMode,
	}, true
}

func mapWebhookConfig(cfg *config.Config) (webhook.Config, bool) {
	w := cfg.Webhook
	if w == nil {
		return webhook.Config{}, false
	}
	return webhook.Config{URLs: w.URLs, Timeout: dur(w.Timeout, 5*time.Second)}, true
}

func mapControlConfig(cfg *config.Config) control.Config {
	c := cfg.Control
	if c == nil {
		return control.Config{}
	}
	return control.Config{
		Enabled:      c.Enabled,
		Addr:         c.Addr,
		Token:        c.Token,
		Pprof:        c.Pprof,
		ReadTimeout:  dur(c.ReadTimeout, 10*time.Second),
		WriteTimeout: dur(c.WriteTimeout, 0),
	}
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	m := cfg.Maintenance
	if m == nil {
		return maintenance.Config{Retention: 24 * time.Hour}
	}
	// "0s" disables pruning.
	retention := dur(m.Retention, 24*time.Hour)
	return maintenance.Config{
		Timezone:       m.Timezone,
		StatusSchedule: m.StatusSchedule,
		PruneSchedule:  m.PruneSchedule,
		Retention:      retention,
	}
}
