package app

import (
	"context"
	"strings"

	"github.com/BuildWithDuke/bugsbugger/internal/bot"
	"github.com/BuildWithDuke/bugsbugger/internal/config"
	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// rateSetter is implemented by transports with a tunable send limit.
type rateSetter interface {
	SetRate(rps float64, burst int)
}

func (a *App) reloadLoop(ctx context.Context) {
	sub, cancel := a.cfgm.Subscribe(8)
	defer cancel()
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Only the newest pending config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

// apply pushes every hot-reloadable setting into the running components.
// Inputs were checked by validate before commit, so map errors are only
// logged.
func (a *App) apply(ctx context.Context, old, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(old, cfg); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))

	if cat, err := mapCatalog(cfg); err != nil {
		a.log.Warn("escalation profiles not applied", logx.Err(err))
	} else {
		a.policy.SetCatalog(cat)
	}
	a.svc.SetDefaults(mapDefaults(cfg))

	if workers, timeout, err := dispatchSettings(cfg); err != nil {
		a.log.Warn("dispatcher settings not applied", logx.Err(err))
	} else {
		a.disp.Configure(workers, timeout)
	}

	oldRC, _ := mapRunnerConfig(old, a.locs)
	if rc, err := mapRunnerConfig(cfg, a.locs); err != nil {
		a.log.Warn("heartbeat settings not applied", logx.Err(err))
	} else {
		a.runner.Apply(rc)
		if old.Engine.IsEnabled() != cfg.Engine.IsEnabled() || scheduleChanged(oldRC, rc) {
			a.restartHeartbeat()
		}
	}

	if rs, ok := a.adapter.(rateSetter); ok {
		rs.SetRate(cfg.Telegram.RatePerSec, cfg.Telegram.Burst)
	}

	if old.Bot.PageSize != cfg.Bot.PageSize || old.Bot.CommandTimeout != cfg.Bot.CommandTimeout {
		a.rebuildBot(ctx, cfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// scheduleChanged reports runner settings that only take effect on a new Run.
func scheduleChanged(a, b engine.RunnerConfig) bool {
	return a.PollInterval != b.PollInterval ||
		a.HistoryRetention != b.HistoryRetention ||
		a.PruneSpec != b.PruneSpec ||
		a.Location.String() != b.Location.String()
}

func (a *App) rebuildBot(ctx context.Context, cfg *config.Config) {
	opt, err := mapBotOptions(cfg)
	if err == nil {
		var b *bot.Bot
		if b, err = bot.New(a.svc, a.render, a.logs.Logger(), opt); err == nil {
			a.bot = b
			b.Register(ctx, a.router)
			return
		}
	}
	a.log.Warn("bot options not applied", logx.Err(err))
}
