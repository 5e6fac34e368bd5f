package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pogoscan/pkg/logx"
)

// hotSections are applied by a running scanner without a restart.
var hotSections = map[string]bool{
	"logging":       true,
	"scan.location": true,
	"scan.paused":   true,
	"notifier":      true,
}

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) safe structured attrs for logging (never includes passwords or tokens),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.count", len(newCfg.Accounts)))
	}

	oScan, ns := oldCfg.Scan, newCfg.Scan
	if !reflect.DeepEqual(oScan.Location, ns.Location) {
		changed = append(changed, "scan.location")
		if ns.Location != nil {
			attrs = append(attrs, logx.Coord("scan.location", ns.Location.Lat, ns.Location.Lng))
		} else {
			attrs = append(attrs, logx.Bool("scan.location_set", false))
		}
	}
	if oScan.Paused != ns.Paused {
		changed = append(changed, "scan.paused")
		attrs = append(attrs, logx.Bool("scan.paused", ns.Paused))
	}
	oScan.Location, ns.Location = nil, nil
	oScan.Paused, ns.Paused = false, false
	if !reflect.DeepEqual(oScan, ns) {
		changed = append(changed, "scan")
		attrs = append(attrs,
			logx.String("scan.mode", ns.Mode),
			logx.Int("scan.step_limit", ns.StepLimit),
			logx.String("scan.scan_delay", strings.TrimSpace(ns.ScanDelay)),
		)
		if ns.MaxFailures != nil {
			attrs = append(attrs, logx.Int("scan.max_failures", *ns.MaxFailures))
		}
	}

	if !reflect.DeepEqual(oldCfg.Client, newCfg.Client) {
		changed = append(changed, "client")
		attrs = append(attrs,
			logx.String("client.base_url", newCfg.Client.BaseURL),
			logx.String("client.timeout", strings.TrimSpace(newCfg.Client.Timeout)),
		)
	}

	// Storage: nil means disabled.
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		var pathSet bool
		if s := newCfg.Storage; s != nil {
			driver = strings.TrimSpace(s.Driver)
			pathSet = strings.TrimSpace(s.Path) != ""
		}
		// The postgres path is a DSN and may hold a password.
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		n := newCfg.Notifier
		if n == nil {
			n = &NotifierConfig{}
		}
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.alert_pokemon", len(n.AlertPokemon)),
			logx.Bool("notifier.alert_cooldowns", n.AlertCooldowns),
		)
	}

	// Telegram (never log token)
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		if t := newCfg.Telegram; t != nil {
			attrs = append(attrs,
				logx.Int64("telegram.chat_id", t.ChatID),
				logx.Int("telegram.thread_id", t.ThreadID),
				logx.Bool("telegram.send_location", t.SendLocation),
			)
		} else {
			attrs = append(attrs, logx.Bool("telegram.enabled", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Webhook, newCfg.Webhook) {
		changed = append(changed, "webhook")
		var urls int
		if w := newCfg.Webhook; w != nil {
			urls = len(w.URLs)
		}
		attrs = append(attrs, logx.Int("webhook.url_count", urls))
	}

	// Control (never log token)
	if !reflect.DeepEqual(oldCfg.Control, newCfg.Control) {
		changed = append(changed, "control")
		c := newCfg.Control
		if c == nil {
			c = &ControlConfig{}
		}
		attrs = append(attrs,
			logx.Bool("control.enabled", c.Enabled),
			logx.String("control.addr", strings.TrimSpace(c.Addr)),
			logx.Bool("control.token_set", strings.TrimSpace(c.Token) != ""),
			logx.Bool("control.pprof", c.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		m := newCfg.Maintenance
		if m == nil {
			m = &MaintenanceConfig{}
		}
		attrs = append(attrs,
			logx.String("maintenance.status_schedule", m.StatusSchedule),
			logx.String("maintenance.prune_schedule", m.PruneSchedule),
			logx.String("maintenance.retention", m.Retention),
		)
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
