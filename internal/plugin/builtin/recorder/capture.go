package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"toolbox/internal/eventbus"
	core "toolbox/internal/plugin"
	"toolbox/internal/session"
	"toolbox/internal/toolerr"
	logx "toolbox/pkg/logx"
	"toolbox/pkg/tgui"
)

// capture is the session state between /rec start and save or stop.
type capture struct {
	name     string
	mime     string
	blob     []byte
	duration int
}

const maxNameRunes = 100

func (p *Plugin) capturing(chatID int64) bool {
	sm := p.Deps.Sessions
	return sm != nil && sm.Active(p.SessionKey(chatID))
}

func (p *Plugin) handleStart(ctx context.Context, req *core.Request) error {
	name := strings.TrimSpace(req.Text())
	if name != "" {
		if err := validName(name); err != nil {
			return err
		}
	}
	err := p.Deps.Sessions.Acquire(p.SessionKey(req.Chat.ChatID), nil, &capture{name: name})
	if errors.Is(err, session.ErrBusy) {
		return toolerr.Validation("a capture is already running, /rec save or /rec stop it first")
	}
	if err != nil {
		return err
	}
	_, err = tgui.New().
		Title("🎙", "Recording").
		Line("Send a voice message or an audio file now.").
		Line("Then /rec save [filename] to keep it or /rec stop to discard it.").
		Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) handleStop(ctx context.Context, req *core.Request) error {
	text := "Nothing is being captured."
	if p.Deps.Sessions.Release(p.SessionKey(req.Chat.ChatID), session.ReasonCanceled) {
		text = "⏹ Capture discarded."
	}
	_, err := tgui.New().Line(text).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) handleAudio(ctx context.Context, req *core.Request) error {
	att := req.Message.Attachment
	limit := p.config().MaxBytes
	if att.Size > limit {
		return toolerr.Validation(fmt.Sprintf("audio is %s, the limit is %s", formatKB(att.Size), formatKB(limit)))
	}
	blob, err := req.Adapter.Download(ctx, att.FileID, limit)
	if err != nil {
		return toolerr.Wrap(toolerr.Internal, "download failed", err)
	}
	if len(blob) == 0 {
		return toolerr.Validation("the audio is empty")
	}
	mime := att.MIME
	if mime == "" {
		mime = "audio/ogg"
	}

	err = p.Deps.Sessions.With(p.SessionKey(req.Chat.ChatID), func(s *session.Session) error {
		c := s.Data.(*capture)
		c.blob, c.mime, c.duration = blob, mime, att.Duration
		if c.name == "" && att.FileName != "" {
			c.name = strings.TrimSuffix(att.FileName, extension(att.FileName))
		}
		return nil
	})
	if errors.Is(err, session.ErrNoSession) {
		return toolerr.Validation("the capture ended before the audio arrived, /rec start again")
	}
	if err != nil {
		return err
	}
	p.Log.Debug("audio captured", logx.Chat(req.Chat.ChatID), logx.Int("bytes", len(blob)))

	_, err = tgui.New().
		Title("🎙", "Captured").
		KV("Duration", formatDuration(att.Duration)).
		KV("Size", formatKB(int64(len(blob)))).
		Line("/rec save [filename] to keep it, /rec stop to discard it.").
		Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) handleSave(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	key := p.SessionKey(chatID)

	var c capture
	err := p.Deps.Sessions.With(key, func(s *session.Session) error {
		c = *s.Data.(*capture)
		return nil
	})
	if errors.Is(err, session.ErrNoSession) {
		return toolerr.Validation("nothing captured, /rec start and send a voice message first")
	}
	if err != nil {
		return err
	}
	if len(c.blob) == 0 {
		return toolerr.Validation("no audio captured yet, send a voice message first")
	}

	name := strings.TrimSpace(req.Text())
	if name == "" {
		name = c.name
	}
	if name == "" {
		name = defaultName(p.now())
	}
	if err := validName(name); err != nil {
		return err
	}

	rec, err := p.recordings(chatID).Append(ctx, Recording{
		Name:      name,
		Data:      dataURI(c.mime, c.blob),
		Timestamp: p.now().In(p.location()).Format("2006-01-02 15:04:05"),
		Duration:  c.duration,
	})
	if err != nil {
		return err
	}
	p.Deps.Sessions.Release(key, session.ReasonDone)
	p.StoreChanged(eventbus.RecordAppended, chatID, storeKey, rec.ID)

	_, err = tgui.New().
		Title("💾", "Saved").
		KV("Name", name).
		KV("Size", formatKB(int64(len(c.blob)))).
		Line("/rec list shows all recordings.").
		Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func validName(name string) error {
	if len([]rune(name)) > maxNameRunes {
		return toolerr.Validation(fmt.Sprintf("filename is longer than %d characters", maxNameRunes))
	}
	if strings.ContainsFunc(name, func(r rune) bool { return unicode.IsControl(r) || r == '/' || r == '\\' }) {
		return toolerr.Validation("filename must not contain slashes or control characters")
	}
	return nil
}
