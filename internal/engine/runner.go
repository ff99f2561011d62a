package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

type RunnerConfig struct {
	PollInterval     time.Duration
	StartupDelay     time.Duration
	HistoryRetention time.Duration
	// PruneSpec is a cron spec for the history prune job. Empty means 03:30 daily.
	PruneSpec string
	Location  *time.Location
}

const (
	DefaultPollInterval = time.Minute
	defaultPruneSpec    = "30 3 * * *"
)

// Runner drives a Dispatcher from cron triggers.
type Runner struct {
	d   *Dispatcher
	log logx.Logger
	now func() time.Time

	mu  sync.Mutex
	cfg RunnerConfig

	// OnCycle runs after every cycle, e.g. to ping a watchdog.
	OnCycle func(CycleReport)
}

func NewRunner(d *Dispatcher, cfg RunnerConfig, log logx.Logger) (*Runner, error) {
	if d == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{d: d, cfg: cfg, log: log.With(logx.String("comp", "engine.runner")), now: time.Now}, nil
}

// Apply replaces the runner config. Interval and prune changes take
// effect on the next Run.
func (r *Runner) Apply(cfg RunnerConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) config() RunnerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = defaultPruneSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return cfg
}

// Run performs startup recovery then fires cycles until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.config()

	if _, err := r.d.RecoverOnStartup(ctx, r.now()); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.PollInterval), func() { r.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	if cfg.HistoryRetention > 0 {
		if _, err := c.AddFunc(cfg.PruneSpec, func() { r.prune(ctx, cfg.HistoryRetention) }); err != nil {
			return fmt.Errorf("schedule prune %q: %w", cfg.PruneSpec, err)
		}
	}

	if cfg.StartupDelay > 0 {
		t := time.NewTimer(cfg.StartupDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	r.Tick(ctx)

	c.Start()
	r.log.Info("heartbeat started",
		logx.Duration("interval", cfg.PollInterval),
		logx.Duration("retention", cfg.HistoryRetention))

	<-ctx.Done()
	stop := c.Stop()
	select {
	case <-stop.Done():
	case <-time.After(10 * time.Second):
		r.log.Warn("heartbeat stop timed out")
	}
	r.log.Info("heartbeat stopped")
	return nil
}

// Tick runs a single cycle now with a fresh cycle id.
func (r *Runner) Tick(ctx context.Context) CycleReport {
	if ctx.Err() != nil {
		return CycleReport{}
	}
	rep, err := r.d.runCycle(ctx, r.now(), uuid.NewString())
	if err != nil {
		r.log.Error("cycle failed", logx.String("cycle_id", rep.CycleID), logx.Err(err))
	}
	if r.OnCycle != nil {
		r.OnCycle(rep)
	}
	return rep
}

func (r *Runner) prune(ctx context.Context, retention time.Duration) {
	if _, err := r.d.Prune(ctx, r.now(), retention); err != nil {
		r.log.Warn("prune failed", logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
