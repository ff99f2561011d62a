package config

// Config is the daemon configuration. Durations are Go duration strings
// ("30s", "1m", "720h").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Engine     EngineConfig     `json:"engine"`
	Escalation EscalationConfig `json:"escalation,omitempty"`
	Defaults   DefaultsConfig   `json:"defaults"`
	Bot        BotConfig        `json:"bot,omitempty"`
	Debug      DebugConfig      `json:"debug,omitempty"`
}

// TelegramConfig configures the long-poll adapter. The token may also come
// from BUGSBUGGER_TELEGRAM_TOKEN, which wins over the file.
type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outgoing API calls. 0 uses the adapter default.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	// APIURL targets a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warn/error lines to an operator chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./bugsbugger.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the heartbeat dispatcher.
//
// Enabled is a pointer so an omitted value defaults to true.
type EngineConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`
	StartupDelay    string `json:"startup_delay,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	// HistoryRetention prunes nag history older than this. "0s" keeps it all.
	HistoryRetention string `json:"history_retention,omitempty"`
	PruneSchedule    string `json:"prune_schedule,omitempty"`
	DefaultProfile   string `json:"default_profile,omitempty"`
}

// IsEnabled reports the effective engine switch.
func (e EngineConfig) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// EscalationConfig adds or overrides escalation profiles by name.
type EscalationConfig struct {
	Profiles map[string][]TierConfig `json:"profiles,omitempty"`
}

type TierConfig struct {
	Name            string  `json:"name"`
	ThresholdDays   float64 `json:"threshold_days"`
	IntervalMinutes int     `json:"interval_minutes"`
}

// DefaultsConfig applies to newly registered users.
type DefaultsConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	QuietStart    string `json:"quiet_start,omitempty"`
	QuietEnd      string `json:"quiet_end,omitempty"`
	SnoozeMinutes int    `json:"snooze_minutes,omitempty"`
}

// BotConfig tunes the command dispatcher.
type BotConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	PageSize       int    `json:"page_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /debug/pprof/).
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}
