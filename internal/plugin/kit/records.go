package pluginkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"toolbox/internal/eventbus"
	core "toolbox/internal/plugin"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	"toolbox/pkg/tgui"
)

const DefaultPageSize = 5

// RecordAction is a tool-specific per-record button (play, open, ...).
type RecordAction[T any] struct {
	// Key goes into callback data; keep it short and free of ':'.
	Key   string
	Label string
	// Show hides the button for records it does not apply to. nil shows it
	// everywhere.
	Show func(rec storage.Record[T]) bool
	Do   func(ctx context.Context, req *core.Request, rec storage.Record[T]) error
	// URL, when set, makes the button a link instead of a callback. An empty
	// URL hides it.
	URL func(rec storage.Record[T]) string
}

// RecordViewConfig describes how one store is listed.
type RecordViewConfig[T any] struct {
	Plugin string
	// Action is the callback action; default "rec".
	Action string
	Emoji  string
	Title  string
	Empty  string

	PageSize int
	Timeout  time.Duration

	// Open returns the store of one chat.
	Open func(chatID int64) storage.Collection[T]
	// Label is the primary line of a record.
	Label func(rec storage.Record[T]) string

	// Use makes the payload active in the tool's session. nil hides "use".
	Use func(ctx context.Context, req *core.Request, rec storage.Record[T]) error
	// UseLabel explains the ↩ buttons under the list. Default "Load".
	UseLabel string
	// Copy returns the text sent as a tap-to-copy block. nil hides "copy".
	Copy func(rec storage.Record[T]) string

	Extra []RecordAction[T]

	// Location formats the timestamp line; nil means time.Local.
	Location func() *time.Location
	// OnChange is told about deletes and clears (eventbus type, chat, id).
	OnChange func(typ string, chatID int64, id string)
}

// RecordView renders a store as a paginated list with per-record actions.
// Delete and clear-all always go through a yes/no confirmation.
type RecordView[T any] struct {
	cfg   RecordViewConfig[T]
	store *tgui.TokenStore
}

// Callback ops.
const (
	opPage         = "p"
	opUse          = "u"
	opCopy         = "c"
	opDelete       = "d"
	opDeleteYes    = "D"
	opClear        = "k"
	opClearYes     = "K"
	opExtraPrefix  = "x."
	maxCopyRunes   = 3500
	timestampStyle = "2006-01-02 15:04:05"
)

func NewRecordView[T any](cfg RecordViewConfig[T]) *RecordView[T] {
	if cfg.Action == "" {
		cfg.Action = "rec"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UseLabel == "" {
		cfg.UseLabel = "Load"
	}
	if cfg.Empty == "" {
		cfg.Empty = "Nothing saved yet."
	}
	return &RecordView[T]{cfg: cfg, store: tgui.NewTokenStore()}
}

func (v *RecordView[T]) Route() core.CallbackRoute {
	return core.CallbackRoute{
		Plugin:      v.cfg.Plugin,
		Action:      v.cfg.Action,
		Description: v.cfg.Title,
		Access:      core.AccessEveryone,
		Timeout:     v.cfg.Timeout,
		Handle:      v.handle,
	}
}

// Show sends the first page as a new message.
func (v *RecordView[T]) Show(ctx context.Context, req *core.Request) error {
	msg, err := v.Render(ctx, req.Chat.ChatID, 0, "")
	if err != nil {
		return err
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// Render builds one page. status, when set, is shown above the list.
func (v *RecordView[T]) Render(ctx context.Context, chatID int64, page int, status string) (tgui.Message, error) {
	recs, err := v.cfg.Open(chatID).List(ctx)
	if err != nil {
		return tgui.Message{}, err
	}

	b := tgui.New().Title(v.cfg.Emoji, v.cfg.Title)
	if status != "" {
		b.Line(status)
	}
	b.Blank()
	if len(recs) == 0 {
		return b.Line(v.cfg.Empty).Build(), nil
	}

	sub, page, size, from, _, hasPrev, hasNext := tgui.PaginateSlice(recs, page, v.cfg.PageSize)
	kb := tgui.NewInline()
	for i, rec := range sub {
		n := from + i + 1
		b.RawLine(fmt.Sprintf("%d. %s", n, tgui.B(tgui.TruncRunes(v.cfg.Label(rec), 80))))
		b.RawLine("    " + tgui.I(v.timestamp(rec.CreatedAt)).String())
		kb.Row(v.actionRow(n, page, rec)...)
	}
	b.Blank().Line(tgui.PageLabel(page, size, len(recs)))
	if v.cfg.Use != nil {
		b.Line("↩ " + v.cfg.UseLabel)
	}

	var nav []tele.Btn
	if hasPrev {
		nav = append(nav, v.btn("« Prev", opPage, page-1, ""))
	}
	if hasNext {
		nav = append(nav, v.btn("Next »", opPage, page+1, ""))
	}
	if len(nav) > 0 {
		kb.Row(nav...)
	}
	kb.Row(v.btn("🗑 Clear all", opClear, page, ""))
	return b.Inline(kb).Build(), nil
}

func (v *RecordView[T]) actionRow(n, page int, rec storage.Record[T]) []tele.Btn {
	num := strconv.Itoa(n)
	row := make([]tele.Btn, 0, 3+len(v.cfg.Extra))
	if v.cfg.Use != nil {
		row = append(row, v.btn("↩ "+num, opUse, page, rec.ID))
	}
	if v.cfg.Copy != nil {
		row = append(row, v.btn("📋 "+num, opCopy, page, rec.ID))
	}
	for _, a := range v.cfg.Extra {
		if a.Show != nil && !a.Show(rec) {
			continue
		}
		if a.URL != nil {
			if u := a.URL(rec); u != "" {
				row = append(row, tgui.URLBtn(a.Label+" "+num, u))
			}
			continue
		}
		row = append(row, v.btn(a.Label+" "+num, opExtraPrefix+a.Key, page, rec.ID))
	}
	return append(row, v.btn("🗑 "+num, opDelete, page, rec.ID))
}

func (v *RecordView[T]) timestamp(t time.Time) string {
	loc := time.Local
	if v.cfg.Location != nil {
		if l := v.cfg.Location(); l != nil {
			loc = l
		}
	}
	return t.In(loc).Format(timestampStyle)
}

// btn encodes "op:page:id". Data over the callback limit is parked in the
// token store.
func (v *RecordView[T]) btn(text, op string, page int, id string) tele.Btn {
	payload := op + ":" + strconv.Itoa(page) + ":" + id
	data := tgui.Data(v.cfg.Plugin, v.cfg.Action, payload)
	if len(data) > tgui.MaxCallbackDataLen {
		data = tgui.Data(v.cfg.Plugin, v.cfg.Action, v.store.PutString(payload))
	}
	return tgui.Btn(text, data)
}

// CopyButton sends rec as a tap-to-copy block when pressed. Tools use it on
// messages outside the list, e.g. a fresh result.
func (v *RecordView[T]) CopyButton(text string, rec storage.Record[T]) tele.Btn {
	return v.btn(text, opCopy, 0, rec.ID)
}

func parseRecordPayload(payload string) (op string, page int, id string, err error) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, "", fmt.Errorf("malformed payload %q", payload)
	}
	page, err = strconv.Atoi(parts[1])
	if err != nil || page < 0 {
		return "", 0, "", fmt.Errorf("malformed page in %q", payload)
	}
	return parts[0], page, parts[2], nil
}

func (v *RecordView[T]) handle(ctx context.Context, req *core.Request, payload string) error {
	if strings.HasPrefix(payload, "~") {
		p, ok := v.store.GetString(payload)
		if !ok {
			return toolerr.Validation("this button has expired, open the list again")
		}
		payload = p
	}
	op, page, id, err := parseRecordPayload(payload)
	if err != nil {
		return toolerr.Wrap(toolerr.ValidationFailure, "unknown button", err)
	}
	chatID := req.Chat.ChatID
	coll := v.cfg.Open(chatID)

	switch op {
	case opPage:
		return v.edit(ctx, req, page, "")

	case opClear:
		msg := tgui.New().
			Title("⚠️", "Clear all").
			Line("Delete every saved entry of " + v.cfg.Title + "? This cannot be undone.").
			Inline(tgui.ConfirmInline(
				v.btn("✅ Yes, clear", opClearYes, page, ""),
				v.btn("✖ Cancel", opPage, page, ""),
			)).Build()
		return Reply(ctx, req, msg)

	case opClearYes:
		if err := coll.Clear(ctx); err != nil {
			return err
		}
		v.changed(eventbus.StoreCleared, chatID, "")
		return v.edit(ctx, req, 0, "All entries deleted.")
	}

	rec, ok, err := coll.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "That entry no longer exists.")
		return v.edit(ctx, req, page, "That entry no longer exists.")
	}

	switch {
	case op == opUse:
		if err := v.cfg.Use(ctx, req, rec); err != nil {
			return err
		}
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Loaded")
		return nil

	case op == opCopy:
		text := v.cfg.Copy(rec)
		if text == "" {
			return toolerr.Validation("nothing to copy")
		}
		b := tgui.New()
		if len([]rune(text)) > maxCopyRunes {
			b.PreMulti(text)
		} else {
			b.Code(text)
		}
		if _, err := b.Build().Send(ctx, req.Adapter, req.Chat); err != nil {
			return err
		}
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Sent below, tap to copy")
		return nil

	case op == opDelete:
		msg := tgui.New().
			Title("⚠️", "Delete entry").
			Line("Delete \"" + tgui.TruncRunes(v.cfg.Label(rec), 80) + "\"?").
			Inline(tgui.ConfirmInline(
				v.btn("✅ Yes, delete", opDeleteYes, page, rec.ID),
				v.btn("✖ Cancel", opPage, page, ""),
			)).Build()
		return Reply(ctx, req, msg)

	case op == opDeleteYes:
		if err := coll.Remove(ctx, rec.ID); err != nil {
			return err
		}
		v.changed(eventbus.RecordRemoved, chatID, rec.ID)
		return v.edit(ctx, req, page, "Deleted.")

	case strings.HasPrefix(op, opExtraPrefix):
		key := strings.TrimPrefix(op, opExtraPrefix)
		for _, a := range v.cfg.Extra {
			if a.Key == key && a.Do != nil {
				return a.Do(ctx, req, rec)
			}
		}
	}
	return toolerr.Validation("this button is no longer supported")
}

func (v *RecordView[T]) edit(ctx context.Context, req *core.Request, page int, status string) error {
	msg, err := v.Render(ctx, req.Chat.ChatID, page, status)
	if err != nil {
		return err
	}
	return Reply(ctx, req, msg)
}

func (v *RecordView[T]) changed(typ string, chatID int64, id string) {
	if v.cfg.OnChange != nil {
		v.cfg.OnChange(typ, chatID, id)
	}
}
