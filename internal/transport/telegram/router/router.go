// Package router turns transport updates into command and callback handler
// calls on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/runtime/supervisor"
	kit "github.com/BuildWithDuke/bugsbugger/internal/transport"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but not published in the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, cb tgui.Callback) error

// CallbackRoute handles callback data whose action matches Action.
type CallbackRoute struct {
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	ChatID  int64
	FromID  int64
	Command string
	// Args are the quoted-aware tokens after the command; Text is the raw
	// remainder of the message.
	Args  []string
	Text  string
	ReqID string

	// CallbackID and MessageID are set for button presses; MessageID is the
	// message the button belongs to.
	CallbackID string
	MessageID  int

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends HTML text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, markup any) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.ChatID, text, kit.HTML(markup))
}

// Answer acknowledges a button press with a short toast.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.CallbackID == "" {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, r.CallbackID, text)
}

// Edit replaces the message a button belongs to.
func (r *Request) Edit(ctx context.Context, text string, markup any) error {
	return r.Adapter.EditText(ctx, kit.MessageRef{ChatID: r.ChatID, MessageID: r.MessageID}, text, kit.HTML(markup))
}

type Options struct {
	Workers  int
	QueueCap int
	// Fallback handles plain text that is not a command. nil ignores it.
	Fallback HandlerFunc
	// Unknown is the reply to an unregistered command.
	Unknown string
}

type Manager struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	ordered   []Command
	callbacks map[string]CallbackRoute

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	jobs chan func()
}

func New(adapter kit.Adapter, log logx.Logger, opt Options) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(2, runtime.NumCPU())
	}
	if opt.QueueCap <= 0 {
		opt.QueueCap = 256
	}
	if opt.Unknown == "" {
		opt.Unknown = "Unknown command. Try /help"
	}
	return &Manager{
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		opt:       opt,
		jobs:      make(chan func(), opt.QueueCap),
	}
}

// SetRegistry replaces the command and callback tables and refreshes the
// platform menu in the background.
func (m *Manager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Name = sanitizeCommand(c.Name); c.Name != "" && c.Handle != nil {
			ordered = append(ordered, c)
		}
	}
	table := map[string]*Command{}
	for i := range ordered {
		table[ordered[i].Name] = &ordered[i]
	}
	// Aliases never shadow a canonical name.
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = &ordered[i]
				}
			}
		}
	}
	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		if a := strings.TrimSpace(r.Action); a != "" && r.Handle != nil {
			cb[a] = r
		}
	}

	m.mu.Lock()
	m.commands, m.ordered, m.callbacks = table, ordered, cb
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands in registration order.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

// Run consumes updates until ctx is done or updates is closed.
func (m *Manager) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	for i := 0; i < m.opt.Workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job()
				}
			}
		}, supervisor.WithBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *Manager) enqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route resolves one update and queues its handler.
func (m *Manager) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	req := &Request{
		Update:  up,
		ChatID:  msg.ChatID,
		FromID:  msg.FromID,
		ReqID:   newReqID(),
		Adapter: m.adapter,
	}

	if !strings.HasPrefix(text, "/") {
		if m.opt.Fallback == nil {
			return
		}
		req.Text = text
		req.Logger = m.reqLog(req)
		m.dispatch(ctx, req, m.opt.Fallback, 0, func() {})
		return
	}

	word, rest := text[1:], ""
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word, rest = word[:i], word[i+1:]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)

	m.mu.RLock()
	cmd := m.commands[word]
	m.mu.RUnlock()
	if cmd == nil {
		_, _ = m.adapter.SendText(ctx, msg.ChatID, m.opt.Unknown, nil)
		return
	}

	req.Command = cmd.Name
	req.Text = strings.TrimSpace(rest)
	req.Args = tokenize(req.Text)
	req.Logger = m.reqLog(req)
	m.dispatch(ctx, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = m.adapter.SendText(ctx, msg.ChatID, "Busy, try again in a moment.", nil)
	})
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	data, err := tgui.ParseData(strings.TrimSpace(cb.Data))
	if err != nil {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[data.Action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := &Request{
		Update:     up,
		ChatID:     cb.ChatID,
		FromID:     cb.FromID,
		Command:    "cb:" + data.Action,
		Args:       data.Args,
		ReqID:      newReqID(),
		CallbackID: cb.ID,
		MessageID:  cb.MessageID,
		Adapter:    m.adapter,
	}
	req.Logger = m.reqLog(req)
	h := func(ctx context.Context, r *Request) error {
		err := route.Handle(ctx, r, data)
		// Stops the client spinner; a handler that already answered wins.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return err
	}
	m.dispatch(ctx, req, h, route.Timeout, func() {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	})
}

func (m *Manager) reqLog(req *Request) logx.Logger {
	return m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
}

func (m *Manager) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := Chain(h, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(timeout))
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		busy()
	}
}
