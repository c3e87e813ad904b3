// Package pluginkit holds the UI building blocks the tools share: a view hub
// for button-driven screens, the record list view and the async runner.
package pluginkit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	core "toolbox/internal/plugin"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/pkg/tgui"
)

// UIState is the callback-safe navigation state carried by hub buttons.
// Telegram callback data is limited to 64 bytes, so keep it small.
type UIState struct {
	View string `json:"v"`
	Key  string `json:"k,omitempty"`
	Page int    `json:"p,omitempty"`
}

type UIView func(ctx context.Context, req *core.Request, st UIState) (tgui.Message, error)

// UIHub renders button-driven screens. Views are registered by name, every
// button carries a UIState, and a press edits the originating message with
// the next view.
type UIHub struct {
	plugin string
	action string

	views map[string]UIView
	store *tgui.TokenStore

	access  core.Access
	timeout time.Duration
}

func NewUIHub(plugin string) *UIHub {
	return &UIHub{
		plugin: plugin,
		action: "ui",
		views:  map[string]UIView{},
		store:  tgui.NewTokenStore(),
		access: core.AccessEveryone,
	}
}

func (u *UIHub) WithAccess(a core.Access) *UIHub {
	u.access = a
	return u
}

func (u *UIHub) WithTimeout(d time.Duration) *UIHub {
	u.timeout = d
	return u
}

// WithAction changes the callback action name (default "ui").
func (u *UIHub) WithAction(action string) *UIHub {
	if action = strings.TrimSpace(action); action != "" {
		u.action = action
	}
	return u
}

// On registers a view renderer.
func (u *UIHub) On(view string, h UIView) *UIHub {
	view = strings.TrimSpace(view)
	if view == "" || h == nil {
		return u
	}
	u.views[view] = h
	return u
}

// Route is the single callback route that dispatches to the views.
func (u *UIHub) Route() core.CallbackRoute {
	return core.CallbackRoute{
		Plugin:      u.plugin,
		Action:      u.action,
		Description: "screens",
		Access:      u.access,
		Timeout:     u.timeout,
		Handle:      u.handle,
	}
}

// Button builds a button that navigates to st. Oversized state is parked in
// the hub's token store.
func (u *UIHub) Button(text string, st UIState) tele.Btn {
	data, err := tgui.ActionData(u.plugin, u.action, st, u.store)
	if err != nil {
		data = tgui.Data(u.plugin, u.action, "")
	}
	return tele.Btn{Text: text, Data: data}
}

// Show renders view as a new message.
func (u *UIHub) Show(ctx context.Context, req *core.Request, st UIState) error {
	h := u.views[st.View]
	if h == nil {
		return toolerr.New(toolerr.Internal, "unknown view "+st.View)
	}
	msg, err := h(ctx, req, st)
	if err != nil {
		return err
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (u *UIHub) handle(ctx context.Context, req *core.Request, payload string) error {
	st, err := u.decodeState(payload)
	if err != nil {
		return toolerr.Wrap(toolerr.ValidationFailure, "this button has expired, open the screen again", err)
	}
	h := u.views[strings.TrimSpace(st.View)]
	if h == nil {
		return toolerr.New(toolerr.ValidationFailure, "this button is no longer supported")
	}
	msg, err := h(ctx, req, st)
	if err != nil {
		return err
	}
	return Reply(ctx, req, msg)
}

func (u *UIHub) decodeState(payload string) (UIState, error) {
	var st UIState
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return st, errors.New("empty payload")
	}
	if strings.HasPrefix(payload, "~") {
		b, ok := u.store.GetBytes(payload)
		if !ok {
			return st, errors.New("payload expired")
		}
		return st, json.Unmarshal(b, &st)
	}
	return st, tgui.UnpackJSON(payload, &st)
}

// Reply edits the message a button was pressed on, or sends msg as a new
// message when req is not a callback.
func Reply(ctx context.Context, req *core.Request, msg tgui.Message) error {
	if cb := req.Update.Callback; cb != nil {
		ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
		return msg.Edit(ctx, req.Adapter, ref, req.Chat)
	}
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
