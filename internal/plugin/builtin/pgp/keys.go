package pgp

import (
	"context"
	"errors"
	"strings"

	"toolbox/internal/eventbus"
	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	logx "toolbox/pkg/logx"
	"toolbox/pkg/tgui"
)

// state is the chat's pgp session: the last generated pair, a secret key
// loaded for decryption and the form being filled in.
type state struct {
	current   *KeyPair
	secretKey string
	loaded    string
	form      *form
}

func (s *state) empty() bool {
	return s.current == nil && s.secretKey == "" && s.form == nil
}

// update runs fn on the chat's session state, opening a session first when
// there is none.
func (p *Plugin) update(chatID int64, fn func(st *state) error) error {
	sm := p.Deps.Sessions
	key := p.SessionKey(chatID)
	apply := func(s *session.Session) error { return fn(s.Data.(*state)) }
	err := sm.With(key, apply)
	if !errors.Is(err, session.ErrNoSession) {
		return err
	}
	st := &state{}
	if err := fn(st); err != nil {
		return err
	}
	err = sm.Acquire(key, nil, st)
	if errors.Is(err, session.ErrBusy) {
		return sm.With(key, apply)
	}
	return err
}

func (p *Plugin) snapshot(chatID int64) (state, bool) {
	st, ok := session.Load[*state](p.Deps.Sessions, p.SessionKey(chatID))
	if !ok || st == nil {
		return state{}, false
	}
	return *st, true
}

// releaseIfEmpty ends the session once nothing is left in it.
func (p *Plugin) releaseIfEmpty(chatID int64) {
	if st, ok := p.snapshot(chatID); ok && st.empty() {
		p.Deps.Sessions.Release(p.SessionKey(chatID), session.ReasonDone)
	}
}

func (p *Plugin) handleGen(ctx context.Context, req *core.Request) error {
	name := strings.TrimSpace(strings.Join(append([]string{req.Flag("name", "")}, req.Args...), " "))
	if name == "" {
		name = "My PGP Key"
	}
	opt := KeyOptions{
		Name:       name,
		Email:      req.Flag("email", "user@example.com"),
		Type:       strings.ToLower(req.Flag("type", p.config().DefaultType)),
		Passphrase: req.Flag("pass", ""),
	}
	if _, err := keyConfig(opt.Type, p.now()); err != nil {
		return err
	}
	chatID := req.Chat.ChatID
	ad := req.Adapter
	return pluginkit.RunAsync(ctx, p.Supervisor(), req, pluginkit.AsyncOp{
		Name:    "keygen",
		Status:  "Generating " + opt.Type + " key pair",
		Timeout: p.config().Timeouts.OperationOr(DefaultGenTimeout),
		Run: func(ctx context.Context) (tgui.Message, error) {
			now := p.now()
			kp, err := Generate(opt, now)
			if err != nil {
				return tgui.Message{}, err
			}
			kp.Created = now.In(p.location()).Format("2006-01-02 15:04:05")
			if err := p.update(chatID, func(st *state) error {
				st.current = &kp
				return nil
			}); err != nil {
				return tgui.Message{}, err
			}
			p.Log.Info("key pair generated", logx.Chat(chatID), logx.String("type", kp.Type))

			for _, f := range []struct{ name, body string }{
				{"public-key.asc", kp.PublicKey},
				{"secret-key.asc", kp.SecretKey},
			} {
				if _, err := ad.SendFile(ctx, req.Chat, kit.OutFile{
					Kind:   kit.FileDocument,
					Name:   f.name,
					MIME:   "application/pgp-keys",
					Reader: strings.NewReader(f.body),
				}, nil); err != nil {
					return tgui.Message{}, err
				}
			}
			return generatedMessage(kp, opt.Passphrase != ""), nil
		},
	})
}

func generatedMessage(kp KeyPair, locked bool) tgui.Message {
	protection := "none"
	if locked {
		protection = "passphrase"
	}
	return tgui.New().
		Title("🔐", "Key pair generated").
		KV("User", kp.Name+" <"+kp.Email+">").
		KV("Type", kp.Type).
		KV("Fingerprint", kp.Fingerprint).
		KV("Protection", protection).
		Line("Keep secret-key.asc private.").
		Inline(tgui.NewInline().Row(tgui.Btn("💾 Save key pair", tgui.Data("pgp", "save", "")))).
		Build()
}

func (p *Plugin) handleSave(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	st, _ := p.snapshot(chatID)
	if st.current == nil {
		return toolerr.Validation("no key pair to save, /pgp gen first")
	}
	rec, err := p.keys(chatID).Append(ctx, *st.current)
	if err != nil {
		return err
	}
	_ = p.update(chatID, func(s *state) error {
		s.current = nil
		return nil
	})
	p.releaseIfEmpty(chatID)
	p.StoreChanged(eventbus.RecordAppended, chatID, keyPrefix, rec.ID)

	msg := tgui.New().
		Title("💾", "Key pair saved").
		KV("User", keyLabel(rec)).
		Line("/pgp keys lists stored keys.").
		Build()
	return pluginkit.Reply(ctx, req, msg)
}

// loadKey makes a stored secret key the input of the next decryption.
func (p *Plugin) loadKey(ctx context.Context, req *core.Request, rec storage.Record[KeyPair]) error {
	chatID := req.Chat.ChatID
	if err := p.update(chatID, func(st *state) error {
		st.secretKey = rec.Payload.SecretKey
		st.loaded = keyLabel(rec)
		return nil
	}); err != nil {
		return err
	}
	_, err := tgui.New().
		Line("🔓 Secret key of " + keyLabel(rec) + " loaded.").
		Line("/pgp decrypt [--pass passphrase] to use it.").
		Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
