package router

import (
	"context"
	"strings"
	"time"

	kit "toolbox/internal/transport"
	logx "toolbox/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "pgp encrypt".
	Route       string
	Aliases     []string // root-level shortcuts, e.g. ["enc"]
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data of the form "plugin:action:payload".
type CallbackRoute struct {
	Plugin      string
	Action      string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

// InputRoute receives plain messages (text without a leading "/", or media).
// Routes are tried by descending Priority; the first whose Match returns true
// gets the message.
type InputRoute struct {
	Plugin   string
	Name     string
	Priority int
	Timeout  time.Duration
	Match    func(msg *kit.Message) bool
	Handle   HandlerFunc
}

// Request is one dispatched update.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Message *kit.Message // nil for callbacks

	Path    []string // matched command path
	Command string   // route, "cb:plugin:action" or "in:plugin:name"
	Args    []string // positional args
	Payload string   // callback payload

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64

	consumed int // leading tokens of the message text that selected the command
}

// Flag returns the named string flag or def.
func (r *Request) Flag(name, def string) string {
	if v, ok := r.Flags[name]; ok {
		return v
	}
	return def
}

// Bool reports whether a boolean flag was given.
func (r *Request) Bool(name string) bool {
	return r.BoolFlags[name]
}

// Text is the message text after the command path.
func (r *Request) Text() string {
	if r.Message == nil {
		return ""
	}
	return restAfter(r.Message.Text, r.consumed)
}

// MessageRequest builds the request dispatch produces for msg when its
// first pathLen tokens select the command. Logger is left zero.
func MessageRequest(ad kit.Adapter, msg *kit.Message, pathLen int) *Request {
	raw := strings.Fields(restAfter(msg.Text, pathLen))
	req := &Request{
		Update:   kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		Message:  msg,
		Adapter:  ad,
		RawArgs:  raw,
		consumed: pathLen,
	}
	req.Args, req.Flags, req.BoolFlags = parseFlags(raw)
	return req
}

// CallbackRequest builds the request dispatch produces for a button press.
func CallbackRequest(ad kit.Adapter, cb *kit.Callback) *Request {
	var payload string
	if parts := strings.SplitN(cb.Data, ":", 3); len(parts) == 3 {
		payload = parts[2]
	}
	return &Request{
		Payload: payload,
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: cb},
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Adapter: ad,
	}
}
