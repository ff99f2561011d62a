package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "github.com/BuildWithDuke/bugsbugger/internal/runtime/supervisor"
	kit "github.com/BuildWithDuke/bugsbugger/internal/transport"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

// Config for the Telegram adapter. RatePerSec bounds outgoing API calls
// across all chats.
type Config struct {
	Token       string
	PollTimeout time.Duration
	RatePerSec  float64
	Burst       int
	// RequestTimeout bounds one API call on top of the long-poll wait.
	RequestTimeout time.Duration
	// APIURL points at a self-hosted Bot API server. Empty uses Telegram's.
	APIURL string

	offline bool
}

const (
	defaultRatePerSec     = 25
	defaultRequestTimeout = 30 * time.Second
	textLimit             = 4000
)

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	out     atomic.Pointer[chan<- kit.Update]

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	// getUpdates shares the client, so the timeout must outlast the poll.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.PollTimeout + cfg.RequestTimeout},
		Offline: cfg.offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram.adapter")),
		bot:     b,
		limiter: newLimiter(cfg.RatePerSec, cfg.Burst),
	}
	a.registerHandlers()
	return a, nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// SetRate changes the outgoing rate limit in place.
func (a *Adapter) SetRate(rps float64, burst int) {
	l := newLimiter(rps, burst)
	a.limiter.SetLimit(l.Limit())
	a.limiter.SetBurst(l.Burst())
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
		if m.Sender != nil {
			msg.FromID, msg.FromUsername = m.Sender.ID, m.Sender.Username
		}
		a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		up := &kit.Callback{ID: cb.ID, ChatID: m.Chat.ID, MessageID: m.ID, Data: cb.Data}
		if cb.Sender != nil {
			up.FromID = cb.Sender.ID
		}
		a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: up})
		return nil
	})
}

// forward hands an update to the consumer without blocking the poll loop.
func (a *Adapter) forward(up kit.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while still wanted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithRestartOnCleanExit(true))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// The long poll may still be waiting on getUpdates; do not hold shutdown.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.limiter.Wait(ctx)
}

// call runs a telebot request and returns early once ctx is done. telebot
// takes no context, so an abandoned request keeps running in the background
// until the HTTP client timeout ends it.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if ctx == nil {
		return fn()
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func sendOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. Markup goes on the first part; the returned ref is the first.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chat := &tele.Chat{ID: chatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, parseMode) {
		if err := a.wait(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt, i == 0)
		msg, err := call(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, so) })
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: chatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces a message. Overflow beyond the limit is sent as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)
	if err := a.wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(opt, true)
	if _, err := call(ctx, func() (*tele.Message, error) { return a.bot.Edit(m, chunks[0], so) }); err != nil && !isNotModified(err) {
		return err
	}
	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := a.wait(ctx); err != nil {
			return err
		}
		so := sendOptions(opt, false)
		if _, err := call(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, so) }); err != nil {
			return err
		}
	}
	return nil
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
	return err
}

// SendAlert implements logx.AlertSender with plain text.
func (a *Adapter) SendAlert(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, chatID, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the command menu; unchanged lists are skipped.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if utf8.RuneCountInString(d) > 256 {
			d = tgui.TruncRunes(d, 255)
		}
		h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) == 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := call(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetCommands(out) }); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
