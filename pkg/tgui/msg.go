package tgui

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Message is rendered HTML text plus an optional inline keyboard.
type Message struct {
	Text   string
	Markup *tele.ReplyMarkup
}

// Builder assembles an HTML message line by line. Plain strings are escaped;
// H values are appended as-is.
type Builder struct {
	rm    *tele.ReplyMarkup
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line with an optional emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
		return b
	}
	b.lines = append(b.lines, B(t).String())
	return b
}

// Line adds an escaped line. A blank s adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds a pre-rendered line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds "prefix key: value", with the key in bold.
func (b *Builder) KV(prefix, key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	line := B(key).String() + ": " + Esc(strings.TrimSpace(value)).String()
	if p := strings.TrimSpace(prefix); p != "" {
		line = Esc(p).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Inline attaches an inline keyboard. nil removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil || kb.Len() == 0 {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Build joins the lines, trimming leading and trailing blank lines.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return Message{Text: text, Markup: b.rm}
}

// String is Build().Text.
func (b *Builder) String() string { return b.Build().Text }
