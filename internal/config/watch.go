package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

const (
	reloadDebounce    = 250 * time.Millisecond
	validateTimeout   = 5 * time.Second
	watchRetryInitial = 250 * time.Millisecond
	watchRetryMax     = 5 * time.Second
)

// fileOps are the events that can change what Parse would read. Chmod is
// included because some editors only touch the mode on atomic save.
const fileOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// debouncer runs fn once events stop arriving for the configured delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

// Watch reloads the file on change until ctx is done. It watches the parent
// directory so atomic-rename saves are seen, and recreates a failed watcher
// with jittered exponential backoff. It always returns nil.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	d := &debouncer{delay: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer d.stop()

	wait := watchRetryInitial
	for {
		err := m.watchDir(ctx, dir, d, func() { wait = watchRetryInitial })
		if ctx.Err() != nil {
			return nil
		}
		sleep := wait + rand.N(wait/2+1)
		wait = min(2*wait, watchRetryMax)
		m.log.Warn("config watcher stopped, restarting", logx.String("dir", dir), logx.Duration("backoff", sleep), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func (m *Manager) watchDir(ctx context.Context, dir string, d *debouncer, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	started()
	name := filepath.Base(m.path)
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&fileOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Something may have been missed; re-read to be sure.
				d.trigger()
			case err != nil:
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// reload parses, validates and commits the file if its content changed.
// It reports whether subscribers were notified.
func (m *Manager) reload(ctx context.Context) bool {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Warn("config reload failed", logx.Err(err))
		return false
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if same {
		log.Debug("config unchanged")
		return false
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config committed", logx.String("hash", fmt.Sprintf("%016x", h)))
	return true
}
