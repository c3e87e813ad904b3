package pgp

import (
	"context"
	"strings"

	core "toolbox/internal/plugin"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/pkg/tgui"
)

const (
	modeEncrypt = "encrypt"
	modeDecrypt = "decrypt"
)

type step int

const (
	stepNone step = iota
	stepKey
	stepText
)

// form collects the inputs of one encryption or decryption.
type form struct {
	mode string
	step step
	key  string
	pass string
}

func (p *Plugin) formStep(chatID int64) step {
	st, ok := p.snapshot(chatID)
	if !ok || st.form == nil {
		return stepNone
	}
	return st.form.step
}

func (p *Plugin) handleEncrypt(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	f := &form{mode: modeEncrypt, step: stepKey}
	if req.Bool("mine") {
		st, _ := p.snapshot(chatID)
		if st.current == nil {
			return toolerr.Validation("no generated key pair, /pgp gen first or send a public key")
		}
		f.key, f.step = st.current.PublicKey, stepText
	}
	if err := p.update(chatID, func(st *state) error {
		st.form = f
		return nil
	}); err != nil {
		return err
	}
	return p.prompt(ctx, req, f)
}

func (p *Plugin) handleDecrypt(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	f := &form{mode: modeDecrypt, step: stepKey, pass: req.Flag("pass", "")}
	if err := p.update(chatID, func(st *state) error {
		if st.secretKey != "" {
			f.key, f.step = st.secretKey, stepText
		}
		st.form = f
		return nil
	}); err != nil {
		return err
	}
	return p.prompt(ctx, req, f)
}

func (p *Plugin) handleCancel(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	text := "Nothing to cancel."
	if p.formStep(chatID) != stepNone {
		_ = p.update(chatID, func(st *state) error {
			st.form = nil
			return nil
		})
		p.releaseIfEmpty(chatID)
		text = "✖ Canceled."
	}
	_, err := tgui.New().Line(text).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) prompt(ctx context.Context, req *core.Request, f *form) error {
	b := tgui.New()
	switch {
	case f.mode == modeEncrypt && f.step == stepKey:
		b.Title("🔒", "Encrypt").Line("Send the recipient's public key as text or as an .asc file.")
	case f.mode == modeEncrypt:
		b.Title("🔒", "Encrypt").Line("Send the text to encrypt.")
	case f.step == stepKey:
		b.Title("🔓", "Decrypt").Line("Send your secret key as text or as an .asc file.")
	default:
		b.Title("🔓", "Decrypt").Line("Send the encrypted message.")
	}
	b.Line("/pgp cancel stops.")
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// readInput returns the message text or the content of a text document.
func readInput(ctx context.Context, ad kit.Adapter, msg *kit.Message) (string, error) {
	if a := msg.Attachment; a != nil {
		b, err := ad.Download(ctx, a.FileID, DefaultMaxDocBytes)
		if err != nil {
			return "", toolerr.Wrap(toolerr.Internal, "download failed", err)
		}
		return string(b), nil
	}
	return msg.Text, nil
}

func (p *Plugin) handleInput(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	in, err := readInput(ctx, req.Adapter, req.Message)
	if err != nil {
		return err
	}

	st, _ := p.snapshot(chatID)
	if st.form == nil {
		return toolerr.Validation("nothing is waiting for input, start with /pgp encrypt or /pgp decrypt")
	}
	f := *st.form

	if f.step == stepKey {
		if err := checkKey(f.mode, in); err != nil {
			return err
		}
		f.key, f.step = in, stepText
		if err := p.update(chatID, func(s *state) error {
			s.form = &f
			return nil
		}); err != nil {
			return err
		}
		return p.prompt(ctx, req, &f)
	}

	var out string
	if f.mode == modeEncrypt {
		out, err = Encrypt(f.key, in)
	} else {
		out, err = Decrypt(f.key, in, f.pass)
	}
	if toolerr.Is(err, toolerr.ValidationFailure) && strings.TrimSpace(in) == "" {
		return err
	}
	_ = p.update(chatID, func(s *state) error {
		s.form = nil
		return nil
	})
	p.releaseIfEmpty(chatID)
	if err != nil {
		return err
	}

	b := tgui.New()
	if f.mode == modeEncrypt {
		b.Title("🔒", "Encrypted message")
	} else {
		b.Title("🔓", "Decrypted message")
	}
	_, err = b.PreMulti(out).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// checkKey rejects a key block that cannot serve the form's mode.
func checkKey(mode, armoredKey string) error {
	ring, err := readKeyRing(armoredKey)
	if err != nil {
		return err
	}
	if mode == modeDecrypt {
		for _, e := range ring {
			if e.PrivateKey == nil {
				return toolerr.Validation("that is a public key, send the secret key")
			}
		}
	}
	return nil
}
