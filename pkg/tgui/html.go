package tgui

import "html"

// H is text already escaped for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// Pre renders a code block. Telegram needs balanced tags per message, so
// long text goes through Builder.PreMulti instead.
func Pre(s string) H { return H("<pre>" + Code(s).String() + "</pre>") }
