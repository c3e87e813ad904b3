package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "toolbox/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// preChunkRunes bounds one <pre> block so the message stays under
// Telegram's 4096 character limit.
const preChunkRunes = 3500

// Message is rendered text plus its send options. More holds follow-up
// messages that are sent after the first one and never carry markup.
type Message struct {
	Text string
	Opt  *kit.SendOptions
	More []string
}

// Send sends m as a new message.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	ref, err := ad.SendText(ctx, to, m.Text, m.options())
	if err != nil {
		return ref, err
	}
	return ref, m.sendMore(ctx, ad, to)
}

// Edit replaces the message at ref. Telegram edits one message at a time, so
// More parts go out as new messages.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef, to kit.ChatTarget) error {
	if err := ad.EditText(ctx, ref, m.Text, m.options()); err != nil {
		return err
	}
	return m.sendMore(ctx, ad, to)
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	return m.Opt
}

func (m Message) sendMore(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) error {
	if len(m.More) == 0 {
		return nil
	}
	opt := *m.options()
	opt.ReplyMarkupAdapter = nil
	for _, t := range m.More {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, err := ad.SendText(ctx, to, t, &opt); err != nil {
			return err
		}
	}
	return nil
}

// Builder assembles an HTML message line by line. Text passed to Line, KV
// and Title is escaped; RawLine is not.
type Builder struct {
	rm    *tele.ReplyMarkup
	lines []string
	more  []string
}

func New() *Builder { return &Builder{} }

// Inline attaches an inline keyboard. A nil keyboard removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

// Title adds a bold heading with an optional emoji in front.
func (b *Builder) Title(emoji, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	line := B(title).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		s = ""
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "• key: value" row. Rows without a key are skipped.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

func (b *Builder) Code(s string) *Builder {
	if s = strings.TrimSpace(s); s != "" {
		b.lines = append(b.lines, Code(s).String())
	}
	return b
}

// Pre adds one preformatted block. Long text belongs in PreMulti.
func (b *Builder) Pre(text string) *Builder {
	if text = strings.TrimRight(text, "\n"); text != "" {
		b.lines = append(b.lines, Pre(text).String())
	}
	return b
}

// PreMulti splits text into <pre> blocks that each fit one message. The
// first block stays in the builder; the rest become Message.More.
func (b *Builder) PreMulti(text string) *Builder {
	text = strings.TrimRight(text, "\n")
	for i, chunk := range splitPre(text, preChunkRunes-len("<pre><code></code></pre>")) {
		if i == 0 {
			b.lines = append(b.lines, Pre(chunk).String())
		} else {
			b.more = append(b.more, Pre(chunk).String())
		}
	}
	return b
}

// splitPre cuts text into windows of at most n runes, ending a window at
// its last newline when that newline is past the first third.
func splitPre(text string, n int) []string {
	var out []string
	for text != "" {
		end, runes := 0, 0
		cutNL, cutRunes := -1, 0
		for end < len(text) && runes < n {
			r, size := utf8.DecodeRuneInString(text[end:])
			end += size
			runes++
			if r == '\n' {
				cutNL, cutRunes = end, runes
			}
		}
		if end < len(text) && cutNL != -1 && cutRunes >= n/3 {
			end = cutNL
		}
		out = append(out, strings.TrimRight(text[:end], "\n"))
		text = strings.TrimLeft(text[end:], "\n")
	}
	return out
}

// Build returns the message with HTML parse mode and link previews off.
func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{
		Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"),
		Opt:  opt,
		More: append([]string(nil), b.more...),
	}
}
