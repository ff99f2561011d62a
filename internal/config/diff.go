package config

import (
	"reflect"
	"strings"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// SummarizeChange lists the sections that differ and a few safe fields for
// the reload log line. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	ot.Token, nt.Token = "", ""
	if tokenChanged || ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Any("telegram.rate_per_sec", nt.RatePerSec),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", newCfg.Engine.IsEnabled()),
			logx.String("engine.poll_interval", newCfg.Engine.PollInterval),
			logx.Int("engine.workers", newCfg.Engine.Workers),
		)
	}
	if !reflect.DeepEqual(oldCfg.Escalation, newCfg.Escalation) {
		changed = append(changed, "escalation")
		attrs = append(attrs, logx.Int("escalation.custom_profiles", len(newCfg.Escalation.Profiles)))
	}
	if oldCfg.Defaults != newCfg.Defaults {
		changed = append(changed, "defaults")
	}
	if oldCfg.Bot != newCfg.Bot {
		changed = append(changed, "bot")
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.Bool("debug.enabled", newCfg.Debug.Enabled), logx.String("debug.addr", newCfg.Debug.Addr))
	}
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL {
		out = append(out, "telegram")
	}
	if oldCfg.Bot.Workers != newCfg.Bot.Workers || oldCfg.Bot.QueueSize != newCfg.Bot.QueueSize {
		out = append(out, "bot")
	}
	if oldCfg.Debug != newCfg.Debug {
		out = append(out, "debug")
	}
	return out
}
