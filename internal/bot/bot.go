// Package bot implements the Telegram command surface: commands, inline
// button callbacks and the nag delivery used by the dispatcher.
package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
	"github.com/BuildWithDuke/bugsbugger/internal/render"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/router"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

const defaultPageSize = 8

type Options struct {
	PageSize int
	// Timeout bounds one command handler. 0 uses the router default (none).
	Timeout time.Duration
}

type Bot struct {
	svc    *reminder.Service
	render *render.Renderer
	log    logx.Logger
	opt    Options
	now    func() time.Time
}

func New(svc *reminder.Service, r *render.Renderer, log logx.Logger, opt Options) (*Bot, error) {
	if svc == nil {
		return nil, errors.New("bot: reminder service is required")
	}
	if r == nil {
		r = render.New(svc.Policy())
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.PageSize <= 0 {
		opt.PageSize = defaultPageSize
	}
	return &Bot{svc: svc, render: r, log: log.With(logx.String("comp", "bot")), opt: opt, now: time.Now}, nil
}

// Register installs the command and callback tables on m.
func (b *Bot) Register(ctx context.Context, m *router.Manager) {
	m.SetRegistry(ctx, b.Commands(), b.Callbacks())
}

// Fallback answers plain text that is not a command.
func (b *Bot) Fallback(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, "I only understand commands. Try /add or /help.", nil)
	return err
}

func (b *Bot) user(ctx context.Context, req *router.Request) (storage.User, error) {
	u, _, err := b.svc.EnsureUser(ctx, req.ChatID)
	return u, err
}

// userMessage maps an error to the text shown to the user. ok is false for
// internal failures that should also be reported to the log.
func userMessage(err error) (msg string, ok bool) {
	var ie *reminder.InputError
	switch {
	case errors.As(err, &ie):
		return "⚠️ Invalid " + ie.Field + ": " + ie.Msg, true
	case errors.Is(err, storage.ErrNotFound):
		return "Reminder not found.", true
	case errors.Is(err, reminder.ErrNotOpen):
		return "That reminder is already closed.", true
	case errors.Is(err, tgui.ErrCallbackData):
		return "That button is no longer valid.", true
	default:
		return "Something went wrong. Please try again later.", false
	}
}

// fail replies with the user-facing text for err. Only internal errors are
// returned so the request log records them.
func (b *Bot) fail(ctx context.Context, req *router.Request, err error) error {
	msg, ok := userMessage(err)
	if req.CallbackID != "" {
		_ = req.Answer(ctx, msg)
	} else {
		_, _ = req.Reply(ctx, tgui.Esc(msg).String(), nil)
	}
	if ok {
		return nil
	}
	return err
}

func usage(field, u string) error {
	return &reminder.InputError{Field: field, Msg: "usage: " + u}
}

// parseID accepts "12" or "#12".
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &reminder.InputError{Field: "id", Msg: "expected a reminder number, got " + strconv.Quote(s)}
	}
	return id, nil
}
