package clock

import (
	"context"
	"strings"

	"toolbox/internal/eventbus"
	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/toolerr"
	"toolbox/pkg/tgui"
)

// memoKey is the chat's single memo slot.
const memoKey = "simple-memo"

const maxMemoRunes = 3500

// memo button keys
const (
	memoClear    = "clear"
	memoClearYes = "clear-yes"
)

func (p *Plugin) loadMemo(ctx context.Context, chatID int64) (string, error) {
	b, ok, err := p.Chat(chatID).Get(ctx, memoKey)
	if err != nil || !ok {
		return "", err
	}
	return string(b), nil
}

func (p *Plugin) handleMemo(ctx context.Context, req *core.Request) error {
	return p.ui.Show(ctx, req, pluginkit.UIState{View: viewMemo})
}

func (p *Plugin) handleMemoSet(ctx context.Context, req *core.Request) error {
	text := strings.TrimSpace(req.Text())
	if text == "" {
		return toolerr.Validation("write the memo after the command: /memo set <text>")
	}
	if len([]rune(text)) > maxMemoRunes {
		return toolerr.Validation("memo is too long for one message")
	}
	chatID := req.Chat.ChatID
	if err := p.Chat(chatID).Put(ctx, memoKey, []byte(text)); err != nil {
		return err
	}
	p.StoreChanged(eventbus.RecordAppended, chatID, memoKey, "")
	return p.ui.Show(ctx, req, pluginkit.UIState{View: viewMemo, Key: "saved"})
}

// handleMemoClear asks before deleting, like the Clear button.
func (p *Plugin) handleMemoClear(ctx context.Context, req *core.Request) error {
	text, err := p.loadMemo(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	st := pluginkit.UIState{View: viewMemo}
	if text != "" {
		st.Key = memoClear
	}
	return p.ui.Show(ctx, req, st)
}

func (p *Plugin) clearMemo(ctx context.Context, chatID int64) error {
	if err := p.Chat(chatID).Delete(ctx, memoKey); err != nil {
		return err
	}
	p.StoreChanged(eventbus.StoreCleared, chatID, memoKey, "")
	return nil
}

func (p *Plugin) viewMemo(ctx context.Context, req *core.Request, st pluginkit.UIState) (tgui.Message, error) {
	chatID := req.Chat.ChatID
	b := tgui.New().Title("📝", "Memo")

	switch st.Key {
	case memoClear:
		return b.Line("Delete the memo?").Inline(tgui.ConfirmInline(
			p.ui.Button("✅ Yes, delete", pluginkit.UIState{View: viewMemo, Key: memoClearYes}),
			p.ui.Button("✖ Cancel", pluginkit.UIState{View: viewMemo}),
		)).Build(), nil
	case memoClearYes:
		if err := p.clearMemo(ctx, chatID); err != nil {
			return tgui.Message{}, err
		}
		b.Line("Memo cleared.")
	case "saved":
		b.Line("Saved.")
	}

	text, err := p.loadMemo(ctx, chatID)
	if err != nil {
		return tgui.Message{}, err
	}
	if text == "" {
		return b.Line("The memo is empty. Use /memo set <text>.").Build(), nil
	}
	kb := tgui.NewInline().Row(p.ui.Button("🗑 Clear", pluginkit.UIState{View: viewMemo, Key: memoClear}))
	return b.Pre(text).Inline(kb).Build(), nil
}
