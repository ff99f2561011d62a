package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertMaxLen   = 3500
	alertFieldLen = 600
	alertQueueCap = 128
	alertTimeout  = 10 * time.Second
)

// alertSink is a zerolog level writer that queues lines at or above the
// configured level for an operator chat. It never blocks the logger: lines
// over the rate limit or beyond the queue are dropped.
type alertSink struct {
	sender AlertSender
	queue  chan string

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan string, alertQueueCap)}
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(cfg.RatePerSec, 1)
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: alerts enabled without logging.alert.chat_id")
	}

	a.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.wg.Add(1)
		go a.run(ctx)
	})
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	allowed := level >= a.minLevel && a.limiter != nil && a.limiter.Allow()
	a.mu.Unlock()
	if !allowed {
		return len(p), nil
	}
	if msg := formatAlertJSON(p); msg != "" {
		select {
		case a.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

func (a *alertSink) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.mu.Lock()
			chatID := a.chatID
			a.mu.Unlock()
			if chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			_ = a.sender.SendAlert(sctx, chatID, msg)
			cancel()
		}
	}
}

// formatAlertJSON renders one JSON log line as "[LEVEL] message" followed by
// the remaining fields in key order. Non-JSON input is passed through trimmed.
func formatAlertJSON(p []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := fields[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := fields[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(fields, zerolog.LevelFieldName)
	delete(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(fields[k]), alertFieldLen))
	}
	return clip(b.String(), alertMaxLen)
}

// clip cuts s to at most n bytes, marking the cut with "...".
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
