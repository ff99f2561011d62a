package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Button is an inline keyboard button.
type Button = tele.Btn

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons. Empty rows are dropped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Len is the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ConfirmInline builds a one-row yes/no keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}
