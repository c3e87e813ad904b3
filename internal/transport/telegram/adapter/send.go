package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tele "gopkg.in/telebot.v4"

	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
)

func sendOptions(opt *kit.SendOptions, threadID int, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. Markup goes on the first message; its ref is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, parseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, to.ThreadID, i == 0))
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces a message. Overflow beyond one message is sent as new
// messages below it.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0, true)); err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify(err)
	}

	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(opt, ref.ThreadID, false)); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendFile uploads f as a document or an audio message.
func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, f kit.OutFile, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if f.Reader == nil {
		return kit.MessageRef{}, errors.New("file reader is nil")
	}

	var what interface{}
	switch f.Kind {
	case kit.FileAudio:
		what = &tele.Audio{File: tele.FromReader(f.Reader), FileName: f.Name, MIME: f.MIME, Caption: f.Caption, Duration: f.Duration}
	default:
		what = &tele.Document{File: tele.FromReader(f.Reader), FileName: f.Name, MIME: f.MIME, Caption: f.Caption}
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(opt, to.ThreadID, true))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// Download fetches a file by id. Files over maxBytes are refused before the
// transfer when Telegram reports a size, and cut off during it otherwise.
func (a *Adapter) Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := a.bot.FileByID(fileID)
	if err != nil {
		return nil, classify(err)
	}
	if size := int64(meta.FileSize); maxBytes > 0 && size > maxBytes {
		return nil, toolerr.Validation(fmt.Sprintf("file is too large (%d KB, limit %d KB)", size/1024, maxBytes/1024))
	}

	rc, err := a.bot.File(&meta)
	if err != nil {
		return nil, classify(err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(buf.Len()) > maxBytes {
		return nil, toolerr.Validation(fmt.Sprintf("file is too large (limit %d KB)", maxBytes/1024))
	}
	return buf.Bytes(), nil
}

// SendLog implements logx.Sender for the ops chat sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func isNotModified(err error) bool {
	return errors.Is(err, tele.ErrSameMessageContent) ||
		strings.Contains(err.Error(), "message is not modified")
}

// classify maps Telegram refusals onto the permission-denied kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return toolerr.Permission("telegram refused the request", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "forbidden") {
		return toolerr.Permission("telegram refused the request", err)
	}
	return err
}
