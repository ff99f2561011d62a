// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "github.com/BuildWithDuke/bugsbugger/internal/transport"
)

// Sent is one recorded outgoing message or edit.
type Sent struct {
	ChatID    int64
	MessageID int
	Text      string
	Opt       *kit.SendOptions
	Edit      bool
}

// Adapter records everything it is asked to send. Set Err to fail sends.
type Adapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	answers map[string]string
	menu    []kit.BotCommand
	alerts  []string

	Err error
	// OnSend, when set, runs before each send under no lock.
	OnSend func(chatID int64, text string)
}

func New() *Adapter { return &Adapter{answers: map[string]string{}} }

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                    { return nil }

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if a.OnSend != nil {
		a.OnSend(chatID, text)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return kit.MessageRef{}, a.Err
	}
	a.nextID++
	a.sent = append(a.sent, Sent{ChatID: chatID, MessageID: a.nextID, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: chatID, MessageID: a.nextID}, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.sent = append(a.sent, Sent{ChatID: ref.ChatID, MessageID: ref.MessageID, Text: text, Opt: opt, Edit: true})
	return nil
}

// AnswerCallback keeps the first answer per callback, like Telegram.
func (a *Adapter) AnswerCallback(_ context.Context, id, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.answers[id]; !done {
		a.answers[id] = text
	}
	return nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

// SendAlert records operator alerts from the log sink.
func (a *Adapter) SendAlert(_ context.Context, _ int64, text string) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, text)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Alerts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.alerts...)
}

// Sent returns a copy of the recorded messages.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Last returns the most recent message, or a zero Sent.
func (a *Adapter) Last() Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return Sent{}
	}
	return a.sent[len(a.sent)-1]
}

// Answer returns the recorded answer text for a callback id.
func (a *Adapter) Answer(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.answers[id]
	return s, ok
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.answers = map[string]string{}
	a.mu.Unlock()
}
