package qr

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"toolbox/internal/eventbus"
	core "toolbox/internal/plugin"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	"toolbox/pkg/tgui"
)

func (p *Plugin) handleScan(ctx context.Context, req *core.Request) error {
	err := p.Deps.Sessions.Acquire(p.SessionKey(req.Chat.ChatID), nil, nil)
	if err != nil && !errors.Is(err, session.ErrBusy) {
		return err
	}
	_, err = tgui.New().
		Title("📷", "Scan").
		Line("Send a photo or an image file with a QR code.").
		Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) handleImage(ctx context.Context, req *core.Request) error {
	chatID := req.Chat.ChatID
	att := req.Message.Attachment
	limit := p.config().MaxBytes
	if att.Size > limit {
		return toolerr.Validation(fmt.Sprintf("image is larger than %d KB", limit>>10))
	}
	data, err := req.Adapter.Download(ctx, att.FileID, limit)
	if err != nil {
		return toolerr.Wrap(toolerr.Internal, "download failed", err)
	}
	// A scan request is used up by the first image, decoded or not.
	p.Deps.Sessions.Release(p.SessionKey(chatID), session.ReasonDone)

	text, err := Decode(ctx, data)
	if err != nil {
		return err
	}
	return p.showResult(ctx, req, text)
}

// showResult records text at the front of the history and replies with it.
func (p *Plugin) showResult(ctx context.Context, req *core.Request, text string) error {
	chatID := req.Chat.ChatID
	now := p.now()
	rec, err := p.history(chatID).Append(ctx, Scan{
		Text:      text,
		Timestamp: now.In(p.location()).Format("2006-01-02 15:04:05"),
		Time:      now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	p.StoreChanged(eventbus.RecordAppended, chatID, historyKey, rec.ID)
	_, err = p.resultMessage(rec).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) resultMessage(rec storage.Record[Scan]) tgui.Message {
	text := rec.Payload.Text
	kind := "Text"
	row := []tele.Btn{p.view.CopyButton("📋 Copy", rec)}
	if IsURL(text) {
		kind = "URL"
		if link := linkTarget(text); link != "" {
			row = append(row, tgui.URLBtn("🔗 Open", link))
		}
	}
	b := tgui.New().Title("✅", "QR code read")
	if len([]rune(text)) > 3000 {
		b.PreMulti(text)
	} else {
		b.Pre(text)
	}
	return b.
		KV("Type", kind).
		KV("Time", rec.Payload.Timestamp).
		Inline(tgui.NewInline().Row(row...)).
		Build()
}

// reload shows a history entry again as a fresh result.
func (p *Plugin) reload(ctx context.Context, req *core.Request, rec storage.Record[Scan]) error {
	return p.showResult(ctx, req, rec.Payload.Text)
}
