package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// sdNotifier reports readiness and heartbeat liveness to systemd. Outside a
// notify unit every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
	// watchdog returns the unit's WatchdogSec, 0 when disabled.
	watchdog func() (time.Duration, error)
	now      func() time.Time

	lastCycle atomic.Int64 // unix nanos
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		log:      log.With(logx.String("comp", "systemd")),
		notify:   func(s string) (bool, error) { return daemon.SdNotify(false, s) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
		now:      time.Now,
	}
	n.Beat()
	return n
}

func (n *sdNotifier) send(state string) {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Beat marks a completed heartbeat cycle.
func (n *sdNotifier) Beat() { n.lastCycle.Store(n.now().UnixNano()) }

func (n *sdNotifier) LastCycle() time.Time { return time.Unix(0, n.lastCycle.Load()) }

// healthy reports whether the last cycle is recent enough. staleAfter <= 0
// means the engine is off and there is nothing to judge.
func (n *sdNotifier) healthy(staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return true
	}
	return n.now().Sub(n.LastCycle()) <= staleAfter
}

// Watchdog pings WATCHDOG=1 at half the unit's interval while the heartbeat
// is alive. A stalled heartbeat stops the pings and lets systemd restart us.
func (n *sdNotifier) Watchdog(ctx context.Context, staleAfter func() time.Duration) {
	every, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog query failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n.healthy(staleAfter()) {
				n.send(daemon.SdNotifyWatchdog)
			} else {
				n.log.Error("heartbeat stalled, withholding watchdog ping")
			}
		}
	}
}
