// Package hashkit hashes text and generates passwords and random text.
package hashkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/toolerr"
	"toolbox/pkg/tgui"
)

type Config struct {
	// PasswordLength is the length used when /password gets none.
	PasswordLength int                `json:"password_length,omitempty"`
	Timeouts       pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "hashkit" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func decodeConfig(raw json.RawMessage) (Config, error) {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return c, err
	}
	if c.PasswordLength != 0 && (c.PasswordLength < MinPasswordLength || c.PasswordLength > MaxPasswordLength) {
		return c, fmt.Errorf("hashkit.password_length must be between %d and %d", MinPasswordLength, MaxPasswordLength)
	}
	return c, c.Timeouts.Validate("hashkit.timeouts")
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := decodeConfig(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) Commands() []core.Command {
	to := p.config().Timeouts.CommandOr(0)
	return []core.Command{
		{
			Route:       "hash",
			Description: "hash or encode text",
			Usage:       "/hash [sha256|sha512|sha3-256|blake2b|base64] <text>",
			Timeout:     to,
			Handle:      p.handleHash,
		},
		{
			Route:       "password",
			Aliases:     []string{"pw"},
			Description: "generate a password",
			Usage:       "/password [length] [--no-upper] [--no-lower] [--no-numbers] [--no-symbols]",
			Timeout:     to,
			Handle:      p.handlePassword,
		},
		{
			Route:       "randtext",
			Aliases:     []string{"rt"},
			Description: "generate random text",
			Usage:       "/randtext [--charset alphanumeric|alpha|lowercase|uppercase|numbers|hex|custom] [--custom chars] [--length n] [--lines n] [--upper]",
			Timeout:     to,
			Handle:      p.handleRandText,
		},
	}
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{{
		Action:      "pw",
		Description: "regenerate password",
		Timeout:     p.config().Timeouts.CommandOr(0),
		Handle:      p.handleRegenerate,
	}}
}

// cutWord splits off the first whitespace-separated word of s.
func cutWord(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

func (p *Plugin) handleHash(ctx context.Context, req *core.Request) error {
	text := req.Text()
	algos := Algorithms
	if first, rest := cutWord(text); IsAlgorithm(first) {
		algos, text = []string{strings.ToLower(first)}, rest
	}
	if strings.TrimSpace(text) == "" {
		return toolerr.Validation("enter some text: /hash [algo] <text>")
	}

	b := tgui.New().Title("🔐", "Hash")
	for _, algo := range algos {
		out, err := Digest(algo, text)
		if err != nil {
			return err
		}
		b.RawLine(tgui.B(algoNames[algo]).String())
		b.Code(out)
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) passwordOptions(req *core.Request) (PasswordOptions, error) {
	o := DefaultPasswordOptions()
	if n := p.config().PasswordLength; n > 0 {
		o.Length = n
	}
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil {
			return o, toolerr.Validation("length must be a number")
		}
		o.Length = n
	}
	o.Length = clampLength(o.Length)
	o.Upper = !req.Bool("no-upper")
	o.Lower = !req.Bool("no-lower")
	o.Numbers = !req.Bool("no-numbers")
	o.Symbols = !req.Bool("no-symbols")
	return o, nil
}

func (p *Plugin) handlePassword(ctx context.Context, req *core.Request) error {
	o, err := p.passwordOptions(req)
	if err != nil {
		return err
	}
	msg, err := p.passwordMessage(o)
	if err != nil {
		return err
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) handleRegenerate(ctx context.Context, req *core.Request, payload string) error {
	o, err := decodePasswordOptions(payload)
	if err != nil {
		return err
	}
	msg, err := p.passwordMessage(o)
	if err != nil {
		return err
	}
	return pluginkit.Reply(ctx, req, msg)
}

func (p *Plugin) passwordMessage(o PasswordOptions) (tgui.Message, error) {
	pw, err := GeneratePassword(o, nil)
	if err != nil {
		return tgui.Message{}, err
	}
	score, label := Strength(pw)
	kb := tgui.NewInline().Row(tgui.Btn("🔄 Regenerate", tgui.Data(p.Name(), "pw", o.encode())))
	return tgui.New().
		Title("🔑", "Password").
		Code(pw).
		KV("Length", strconv.Itoa(len(pw))).
		KV("Strength", fmt.Sprintf("%s (%d)", label, score)).
		Inline(kb).
		Build(), nil
}

func (p *Plugin) handleRandText(ctx context.Context, req *core.Request) error {
	o := TextOptions{
		Charset: req.Flag("charset", "alphanumeric"),
		Custom:  req.Flag("custom", ""),
		Length:  16,
		Lines:   1,
		Upper:   req.Bool("upper"),
	}
	var err error
	if o.Length, err = intFlag(req, "length", o.Length); err != nil {
		return err
	}
	if o.Lines, err = intFlag(req, "lines", o.Lines); err != nil {
		return err
	}
	text, err := RandomText(o, nil)
	if err != nil {
		return err
	}
	_, err = tgui.New().Title("🎲", "Random text").Pre(text).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func intFlag(req *core.Request, name string, def int) (int, error) {
	v := req.Flag(name, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, toolerr.Validation("--" + name + " must be a number")
	}
	return n, nil
}
