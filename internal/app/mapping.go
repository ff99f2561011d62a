package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BuildWithDuke/bugsbugger/internal/bot"
	"github.com/BuildWithDuke/bugsbugger/internal/config"
	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/observability/pprof"
	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	telegram "github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/adapter"
	"github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/router"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

const (
	defaultHistoryRetention = 90 * 24 * time.Hour
	defaultPollTimeout      = 10 * time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapCatalog builds the escalation registry: built-ins overlaid with the
// configured profiles, defaulting to engine.default_profile.
func mapCatalog(cfg *config.Config) (*escalation.Catalog, error) {
	extra := make([]escalation.Profile, 0, len(cfg.Escalation.Profiles))
	for name, tiers := range cfg.Escalation.Profiles {
		p := escalation.Profile{Name: name, Tiers: make([]escalation.Tier, 0, len(tiers))}
		for _, t := range tiers {
			p.Tiers = append(p.Tiers, escalation.Tier{Name: t.Name, Threshold: t.ThresholdDays, Interval: t.IntervalMinutes})
		}
		extra = append(extra, p)
	}
	cat, err := escalation.NewCatalog(cfg.Engine.DefaultProfile, extra...)
	if err != nil {
		return nil, fmt.Errorf("escalation: %w", err)
	}
	return cat, nil
}

// dispatchSettings returns the worker count and per-delivery timeout. An
// omitted timeout uses the default; an explicit "0s" disables it.
func dispatchSettings(cfg *config.Config) (workers int, timeout time.Duration, err error) {
	timeout = engine.DefaultDeliveryTimeout
	if strings.TrimSpace(cfg.Engine.DeliveryTimeout) != "" {
		if timeout, err = config.ParseDurationField("engine.delivery_timeout", cfg.Engine.DeliveryTimeout); err != nil {
			return 0, 0, err
		}
	}
	return cfg.Engine.Workers, timeout, nil
}

func mapRunnerConfig(cfg *config.Config, locs *quiet.Locations) (engine.RunnerConfig, error) {
	ec := cfg.Engine
	poll, err := config.ParseDurationOrDefault("engine.poll_interval", ec.PollInterval, engine.DefaultPollInterval)
	if err != nil {
		return engine.RunnerConfig{}, err
	}
	delay, err := config.ParseDurationField("engine.startup_delay", ec.StartupDelay)
	if err != nil {
		return engine.RunnerConfig{}, err
	}
	retention := defaultHistoryRetention
	if strings.TrimSpace(ec.HistoryRetention) != "" {
		if retention, err = config.ParseDurationField("engine.history_retention", ec.HistoryRetention); err != nil {
			return engine.RunnerConfig{}, err
		}
	}
	spec := strings.TrimSpace(ec.PruneSchedule)
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return engine.RunnerConfig{}, fmt.Errorf("engine.prune_schedule: %w", err)
		}
	}
	// Prune runs on the operator's clock, which is the default user zone.
	loc, _ := locs.LoadOrUTC(cfg.Defaults.Timezone)
	return engine.RunnerConfig{
		PollInterval:     poll,
		StartupDelay:     delay,
		HistoryRetention: retention,
		PruneSpec:        spec,
		Location:         loc,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			ChatID:     lc.Alert.ChatID,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

func mapDefaults(cfg *config.Config) reminder.Defaults {
	d := cfg.Defaults
	return reminder.Defaults{
		Timezone:      d.Timezone,
		QuietStart:    d.QuietStart,
		QuietEnd:      d.QuietEnd,
		Profile:       cfg.Engine.DefaultProfile,
		SnoozeMinutes: d.SnoozeMinutes,
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	// A send may not outlive the delivery that issued it.
	_, request, err := dispatchSettings(cfg)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    poll,
		RatePerSec:     cfg.Telegram.RatePerSec,
		Burst:          cfg.Telegram.Burst,
		RequestTimeout: request,
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapBotOptions(cfg *config.Config) (bot.Options, error) {
	timeout, err := config.ParseDurationField("bot.command_timeout", cfg.Bot.CommandTimeout)
	if err != nil {
		return bot.Options{}, err
	}
	return bot.Options{PageSize: cfg.Bot.PageSize, Timeout: timeout}, nil
}

func mapRouterOptions(cfg *config.Config) router.Options {
	return router.Options{Workers: cfg.Bot.Workers, QueueCap: cfg.Bot.QueueSize}
}

func mapDebugConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{Addr: cfg.Debug.Addr, Token: cfg.Debug.Token}
}

// validate builds every derived component config so a reload that would
// fail to apply is rejected before it is committed.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCatalog(cfg); err != nil {
		return err
	}
	if _, _, err := dispatchSettings(cfg); err != nil {
		return err
	}
	if _, err := mapRunnerConfig(cfg, quiet.NewLocations(4)); err != nil {
		return err
	}
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBotOptions(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Defaults.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("defaults.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Debug.Enabled {
		if _, err := pprof.New(mapDebugConfig(cfg), nil, logx.Nop()); err != nil {
			return err
		}
	}
	start, end := cfg.Defaults.QuietStart, cfg.Defaults.QuietEnd
	if start == "" {
		start = engine.DefaultQuiet.Start.String()
	}
	if end == "" {
		end = engine.DefaultQuiet.End.String()
	}
	if _, err := quiet.ParseWindow(start, end); err != nil {
		return fmt.Errorf("defaults.quiet: %w", err)
	}
	return nil
}

// Check loads and fully validates the config file without starting anything.
func Check(path string) error {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return err
	}
	return validate(cfg)
}
