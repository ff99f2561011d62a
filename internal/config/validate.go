package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// Validate checks values that can be judged without building components.
// All problems are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := map[string]string{
		"telegram.poll_timeout":    c.Telegram.PollTimeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"engine.poll_interval":     c.Engine.PollInterval,
		"engine.startup_delay":     c.Engine.StartupDelay,
		"engine.delivery_timeout":  c.Engine.DeliveryTimeout,
		"engine.history_retention": c.Engine.HistoryRetention,
		"bot.command_timeout":      c.Bot.CommandTimeout,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set " + EnvToken + ")"))
	}
	if c.Telegram.RatePerSec < 0 || c.Telegram.Burst < 0 {
		add(errors.New("telegram.rate_per_sec and telegram.burst must be >= 0"))
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Alert.Enabled {
		if c.Logging.Alert.ChatID == 0 {
			add(errors.New("logging.alert.chat_id is required when alerts are enabled"))
		}
		if !logx.ValidLevel(c.Logging.Alert.MinLevel) {
			add(fmt.Errorf("logging.alert.min_level: unknown level %q", c.Logging.Alert.MinLevel))
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for the sqlite driver"))
		}
	case "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Engine.Workers < 0 {
		add(errors.New("engine.workers must be >= 0"))
	}
	if c.Defaults.SnoozeMinutes < 0 {
		add(errors.New("defaults.snooze_minutes must be >= 0"))
	}
	if c.Bot.Workers < 0 || c.Bot.QueueSize < 0 || c.Bot.PageSize < 0 {
		add(errors.New("bot.workers, bot.queue_size and bot.page_size must be >= 0"))
	}
	for name, tiers := range c.Escalation.Profiles {
		if strings.TrimSpace(name) == "" {
			add(errors.New("escalation.profiles: empty profile name"))
		}
		if len(tiers) == 0 {
			add(fmt.Errorf("escalation.profiles.%s: at least one tier required", name))
		}
	}
	return errors.Join(errs...)
}
