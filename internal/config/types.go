package config

import (
	"pogoscan/internal/geo"
	"pogoscan/internal/model"
)

// Config is the root of the scanner config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2h"). An
// empty value takes the default; "0s" means zero.
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Accounts []model.Account `json:"accounts" validate:"required,min=1,dive"`
	Scan     ScanConfig      `json:"scan"`
	Client   ClientConfig    `json:"client"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Notifier    *NotifierConfig    `json:"notifier,omitempty"`
	Telegram    *TelegramConfig    `json:"telegram,omitempty"`
	Webhook     *WebhookConfig     `json:"webhook,omitempty"`
	Control     *ControlConfig     `json:"control,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScanConfig drives the overseer and the account workers.
//
// Defaults (when fields are omitted). An explicit "0s" is kept as zero:
// scan_delay, login_delay, stagger and spawn_delay accept it, while tick,
// cooldown, cooldown_refresh, the schedule retries and spawn_window reject
// it in Validate.
//   - mode: "hex"
//   - step_limit: 5
//   - scan_delay: "10s"
//   - login_retries: 3, login_delay: "6s"
//   - max_failures: 5 (only when omitted), cooldown: "2h", cooldown_refresh: "5m"
//   - jitter_meters: 10 (only with jitter: true)
//   - tick: "1s", schedule_retry_base: "5s", schedule_retry_max: "5m"
//   - spawn_window: "15m", spawn_delay: "0s"
//   - stagger: "1s"
//
// location and paused are hot-reloadable: a new location moves the grid,
// paused toggles the pause flag.
type ScanConfig struct {
	Mode     string        `json:"mode" validate:"omitempty,oneof=hex spawn-points"`
	Location *geo.Location `json:"location,omitempty"`
	Paused   bool          `json:"paused,omitempty"`

	StepLimit int    `json:"step_limit" validate:"gte=0,lte=200"`
	ScanDelay string `json:"scan_delay"`

	LoginRetries int    `json:"login_retries" validate:"gte=0"`
	LoginDelay   string `json:"login_delay"`

	// MaxFailures is how many consecutive failures a worker tolerates before
	// cooling down; 0 cools down after the first one. Omit for the default.
	MaxFailures     *int   `json:"max_failures,omitempty" validate:"omitempty,gte=0"`
	Cooldown        string `json:"cooldown,omitempty"`
	CooldownRefresh string `json:"cooldown_refresh,omitempty"`

	Jitter       bool    `json:"jitter"`
	JitterMeters float64 `json:"jitter_meters,omitempty" validate:"gte=0"`

	SpawnpointFile  string `json:"spawnpoint_file,omitempty"`
	NoPokemon       bool   `json:"no_pokemon,omitempty"`
	SpawnpointsOnly bool   `json:"spawnpoints_only,omitempty"`

	Tick              string `json:"tick,omitempty"`
	ScheduleRetryBase string `json:"schedule_retry_base,omitempty"`
	ScheduleRetryMax  string `json:"schedule_retry_max,omitempty"`
	SpawnDelay        string `json:"spawn_delay,omitempty"`
	SpawnWindow       string `json:"spawn_window,omitempty"`
	Stagger           string `json:"stagger,omitempty"`
}

// ClientConfig points the map client at the remote service (or a mock).
type ClientConfig struct {
	BaseURL   string `json:"base_url" validate:"required,url"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pogoscan.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3 postgres postgresql pg"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty" validate:"gte=0"`

	// Persistence queue between the response parser and the store.
	QueueSize     int    `json:"queue_size,omitempty" validate:"gte=0"`
	BatchSize     int    `json:"batch_size,omitempty" validate:"gte=0"`
	FlushInterval string `json:"flush_interval,omitempty"`
}

// NotifierConfig controls the async notification pipeline and the
// sighting alerts feeding it.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	AlertPokemon      []int  `json:"alert_pokemon,omitempty" validate:"dive,gt=0"`
	AlertMinRemaining string `json:"alert_min_remaining,omitempty"`
	AlertPriority     int    `json:"alert_priority,omitempty" validate:"gte=0,lte=10"`
	AlertCooldowns    bool   `json:"alert_cooldowns,omitempty"`
}

type TelegramConfig struct {
	Token        string `json:"token" validate:"required"`
	ChatID       int64  `json:"chat_id" validate:"required"`
	ThreadID     int    `json:"thread_id,omitempty"`
	SendLocation bool   `json:"send_location,omitempty"`
	ParseMode    string `json:"parse_mode,omitempty"`
	APIURL       string `json:"api_url,omitempty" validate:"omitempty,url"`
}

type WebhookConfig struct {
	URLs    []string `json:"urls" validate:"required,min=1,dive,url"`
	Timeout string   `json:"timeout,omitempty"`
}

// ControlConfig controls the HTTP control/status server.
//
// Security note: bind to localhost or set a token. The token is never logged.
type ControlConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:5000"
	Token        string `json:"token,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// MaintenanceConfig schedules housekeeping with cron specs
// (5 fields, descriptors like "@every 1m" also work).
type MaintenanceConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	StatusSchedule string `json:"status_schedule,omitempty"` // default "@every 1m"
	PruneSchedule  string `json:"prune_schedule,omitempty"`  // default "0 * * * *"
	Retention      string `json:"retention,omitempty"`       // default "24h"; "0s" disables pruning
}
