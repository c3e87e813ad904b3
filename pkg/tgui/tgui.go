package tgui

import tele "gopkg.in/telebot.v4"

// Inline accumulates inline keyboard rows.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

// Row appends one row of buttons. Empty rows are dropped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// ConfirmInline is a single yes/no row.
func ConfirmInline(yes, no tele.Btn) *Inline { return NewInline().Row(yes, no) }

// Btn is a callback button; data is sent untouched, see Data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }

func URLBtn(text, url string) tele.Btn { return tele.Btn{Text: text, URL: url} }
