// Package app wires config, storage, the heartbeat engine and the Telegram
// surface into one process and owns start/stop ordering and hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/bot"
	"github.com/BuildWithDuke/bugsbugger/internal/config"
	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/eventbus"
	"github.com/BuildWithDuke/bugsbugger/internal/observability/pprof"
	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
	"github.com/BuildWithDuke/bugsbugger/internal/render"
	"github.com/BuildWithDuke/bugsbugger/internal/runtime/supervisor"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	kit "github.com/BuildWithDuke/bugsbugger/internal/transport"
	telegram "github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/adapter"
	"github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/router"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// Transport is the chat adapter plus the alert sink used by logging.
type Transport interface {
	kit.Adapter
	logx.AlertSender
}

type Option func(*options)

type options struct {
	transport Transport
}

// WithTransport replaces the Telegram adapter, e.g. with a fake in tests.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Mem
	store storage.Store
	locs  *quiet.Locations

	adapter Transport
	policy  *engine.Policy
	svc     *reminder.Service
	render  *render.Renderer
	disp    *engine.Dispatcher
	runner  *engine.Runner
	router  *router.Manager
	bot     *bot.Bot
	sd      *sdNotifier
	debug   *pprof.Server
	started time.Time

	updates chan kit.Update

	hbMu      sync.Mutex
	hbRestart context.CancelFunc
}

func New(cfgPath string, opts ...Option) (_ *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	ad := o.transport
	if ad == nil {
		acfg, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		// The adapter exists before the log service it feeds alerts to.
		bootLog := logx.NewConsole("INFO")
		tg, err := telegram.New(acfg, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log)
	alog := log.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	alog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	cat, err := mapCatalog(cfg)
	if err != nil {
		return nil, err
	}
	locs := quiet.NewLocations(128)
	policy := engine.NewPolicy(cat, locs, log)
	locks := engine.NewKeyedMutex()

	svc, err := reminder.New(store, policy, locks, mapDefaults(cfg), log)
	if err != nil {
		return nil, err
	}
	rnd := render.New(policy)

	deliverer, err := bot.NewDeliverer(ad)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	workers, timeout, err := dispatchSettings(cfg)
	if err != nil {
		return nil, err
	}
	disp, err := engine.NewDispatcher(store, deliverer, policy, log, engine.Options{
		Workers:         workers,
		DeliveryTimeout: timeout,
		Renderer:        rnd,
		Bus:             bus,
		Locks:           locks,
	})
	if err != nil {
		return nil, err
	}
	rc, err := mapRunnerConfig(cfg, locs)
	if err != nil {
		return nil, err
	}
	runner, err := engine.NewRunner(disp, rc, log)
	if err != nil {
		return nil, err
	}

	bopt, err := mapBotOptions(cfg)
	if err != nil {
		return nil, err
	}
	b, err := bot.New(svc, rnd, log, bopt)
	if err != nil {
		return nil, err
	}
	ropt := mapRouterOptions(cfg)
	ropt.Fallback = b.Fallback
	rt := router.New(ad, log, ropt)

	sd := newSDNotifier(log)
	runner.OnCycle = func(engine.CycleReport) { sd.Beat() }

	a := &App{
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		locs:    locs,
		adapter: ad,
		policy:  policy,
		svc:     svc,
		render:  rnd,
		disp:    disp,
		runner:  runner,
		router:  rt,
		bot:     b,
		sd:      sd,
		updates: make(chan kit.Update, 256),
	}
	if cfg.Debug.Enabled {
		if a.debug, err = pprof.New(mapDebugConfig(cfg), a.health, log); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Done is closed once the app context is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.bot.Register(c, a.router)
	if err := a.adapter.Start(c, a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("engine.heartbeat", a.heartbeat)
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { a.sd.Watchdog(c, a.staleAfter) })
	if a.debug != nil {
		// The debug endpoint is optional; a bind failure must not stop the bot.
		a.sup.Go0("pprof", func(c context.Context) {
			if err := a.debug.Run(c); err != nil {
				a.log.Error("debug endpoint stopped", logx.Err(err))
			}
		})
	}

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// heartbeat runs the engine runner, restarting it when a reload changes its
// schedule or toggles the engine.
func (a *App) heartbeat(ctx context.Context) error {
	for {
		rctx, cancel := context.WithCancel(ctx)
		a.hbMu.Lock()
		a.hbRestart = cancel
		a.hbMu.Unlock()

		var err error
		if a.cfgm.Get().Engine.IsEnabled() {
			err = a.runner.Run(rctx)
		} else {
			a.log.Info("engine disabled; heartbeat idle")
			<-rctx.Done()
		}
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		a.log.Info("heartbeat restarting")
	}
}

func (a *App) restartHeartbeat() {
	a.hbMu.Lock()
	defer a.hbMu.Unlock()
	if a.hbRestart != nil {
		a.hbRestart()
	}
}

// staleAfter is how long the watchdog tolerates no completed cycle.
func (a *App) staleAfter() time.Duration {
	cfg := a.cfgm.Get()
	if !cfg.Engine.IsEnabled() {
		return 0
	}
	rc, err := mapRunnerConfig(cfg, a.locs)
	if err != nil {
		return 0
	}
	_, timeout, _ := dispatchSettings(cfg)
	return 3*rc.PollInterval + rc.StartupDelay + timeout
}

func (a *App) health() pprof.Health {
	stale := a.staleAfter()
	h := pprof.Health{
		OK:        a.sd.healthy(stale),
		LastCycle: a.sd.LastCycle().UTC(),
		Uptime:    time.Since(a.started).Round(time.Second).String(),
	}
	if !h.OK {
		h.Detail = "no heartbeat cycle within " + stale.String()
	}
	return h
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			if n := a.bus.Dropped(); n > 0 {
				a.log.Debug("events dropped", logx.Uint64("count", n))
			}
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			switch d := e.Data.(type) {
			case engine.NagEvent:
				fields = append(fields, logx.Int64("obligation_id", d.ObligationID), logx.String("tier", d.Tier), logx.Int("seq", d.Seq))
			case engine.CycleReport:
				fields = append(fields, logx.String("cycle_id", d.CycleID), logx.Int("fired", d.Fired), logx.Int("failed", d.Failed))
			}
			a.log.Trace("event", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("goroutines still running", logx.Int64("active", a.sup.Active()))
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
