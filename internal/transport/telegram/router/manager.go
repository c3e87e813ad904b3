// Package router turns Telegram updates into handler calls: slash commands
// through a command tree, inline-button callbacks by "plugin:action", and
// plain messages through prioritized input routes. Handlers run on a bounded
// worker pool so the update loop never blocks on a tool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "toolbox/internal/runtime/supervisor"
	kit "toolbox/internal/transport"
	logx "toolbox/pkg/logx"
)

type Options struct {
	Workers   int
	QueueSize int

	Owners       []int64
	AllowedChats []int64 // empty means every chat

	RatePerSec float64 // per chat; 0 disables
	Burst      int
}

type CommandManager struct {
	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode
	callbacks map[string]map[string]CallbackRoute
	inputs    []InputRoute
	owners    []int64
	allowed   map[int64]bool

	log     logx.Logger
	adapter kit.Adapter
	limiter *chatLimiter
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor // dispatcher workers
	appSup  *rtsup.Supervisor // for menu updates

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.Workers <= 0 {
		opt.Workers = max(2, runtime.NumCPU())
	}
	m := &CommandManager{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log,
		adapter:   adapter,
		limiter:   newChatLimiter(opt.RatePerSec, opt.Burst),
		workers:   opt.Workers,
		jobs:      make(chan func(), opt.QueueSize),
	}
	m.SetAccess(opt.Owners, opt.AllowedChats)
	return m
}

// SetAccess replaces the owner list and chat allowlist (config reload).
func (m *CommandManager) SetAccess(owners, allowedChats []int64) {
	allowed := map[int64]bool{}
	for _, id := range allowedChats {
		allowed[id] = true
	}
	m.mu.Lock()
	m.owners = append([]int64(nil), owners...)
	m.allowed = allowed
	m.mu.Unlock()
}

// SetRateLimit changes the per-chat rate limit (config reload).
func (m *CommandManager) SetRateLimit(perSec float64, burst int) {
	m.limiter.configure(perSec, burst)
}

// SetMenuSupervisor runs menu updates under sup so they stop on shutdown.
func (m *CommandManager) SetMenuSupervisor(sup *rtsup.Supervisor) {
	m.runMu.Lock()
	m.appSup = sup
	m.runMu.Unlock()
}

func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) access() (owners []int64, allowed map[int64]bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners, m.allowed
}

// SetRegistry swaps the whole routing table. A help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute, inputs []InputRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(req.Args), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}, Command{
		Route:       "start",
		Description: "introduction",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(nil), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	leaves := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaves = append(leaves, c)
		leaf := root.find(route)

		// Multi-token routes get a flat menu alias (/pgp_encrypt). The single
		// token itself must never become an alias or it would shadow its
		// subcommands.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		p, a := strings.TrimSpace(r.Plugin), strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = r
	}

	in := make([]InputRoute, 0, len(inputs))
	for _, r := range inputs {
		if r.Match != nil && r.Handle != nil {
			in = append(in, r)
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Priority > in[j].Priority })

	m.mu.Lock()
	m.root, m.alias, m.callbacks, m.inputs = root, alias, cb, in
	m.mu.Unlock()

	m.publishMenu(root, leaves)
}

func (m *CommandManager) publishMenu(root *cmdNode, leaves []Command) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(root, leaves)
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	m.runMu.Lock()
	sup := m.appSup
	m.runMu.Unlock()
	if sup != nil {
		sup.Go("telegram.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

// DispatchLoop consumes updates until ctx ends or updates closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()

	m.log.Info("dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	sup.Go0("router.limiter.prune", func(c context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				m.limiter.prune(10 * time.Minute)
			}
		}
	})

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	}
}

// admit applies the chat allowlist and the per-chat rate limit.
func (m *CommandManager) admit(ctx context.Context, chatID, fromID int64, owners []int64, allowed map[int64]bool, deny func(string)) bool {
	if len(allowed) > 0 && !allowed[chatID] && !isOwner(fromID, owners) {
		m.log.Debug("update from chat outside allowlist", logx.Chat(chatID))
		deny("This bot is not enabled for this chat.")
		return false
	}
	if !m.limiter.allow(chatID) {
		m.log.Debug("update rate limited", logx.Chat(chatID))
		deny("Too many requests, slow down.")
		return false
	}
	return true
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owners, allowed := m.access()
	if !m.admit(ctx, msg.ChatID, msg.FromID, owners, allowed, func(text string) {
		_, _ = m.adapter.SendText(ctx, chat, text, nil)
	}) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		m.routeInput(ctx, up, owners)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	rootNode, aliasMap := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		m.enqueueCommand(ctx, up, *leaf.cmd, splitRoute(leaf.cmd.Route), 1, args, owners)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, args[0])
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(ctx, up, *cur.cmd, path, len(path), args, owners)
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string, owners []int64) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Message: up.Message,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Owners:  owners,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Chat(chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, path []string, consumed int, raw []string, owners []int64) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.adapter.SendText(ctx, chat, "Permission denied: owner only.", nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, cmd.Route, owners)
	req.Path = path
	req.consumed = consumed
	req.RawArgs = raw
	req.Args, req.Flags, req.BoolFlags = parseFlags(raw)

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReportError(),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (m *CommandManager) routeInput(ctx context.Context, up kit.Update, owners []int64) {
	msg := up.Message
	m.mu.RLock()
	inputs := m.inputs
	m.mu.RUnlock()

	for _, r := range inputs {
		if !r.Match(msg) {
			continue
		}
		chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		req := m.newRequest(up, chat, msg.FromID, "in:"+r.Plugin+":"+r.Name, owners)
		req.Args = strings.Fields(msg.Text)

		final := Chain(r.Handle,
			MWPanicRecover(m.log),
			MWRequestLog(m.log),
			MWReportError(),
			MWTimeout(r.Timeout),
		)
		if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
			_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
		}
		return
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	plugin, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	owners, allowed := m.access()
	if !m.admit(ctx, cb.ChatID, cb.FromID, owners, allowed, func(text string) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, text)
	}) {
		return
	}

	m.mu.RLock()
	route, ok := m.callbacks[plugin][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "This button is no longer active.")
		return
	}
	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, owners) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Permission denied")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, "cb:"+plugin+":"+action, owners)
	req.Payload = payload

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReportError(),
		MWTimeout(route.Timeout),
	)
	if !m.tryEnqueue(func() {
		_ = final(ctx, req)
		// Clears the client's loading indicator; a handler may already have answered.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Busy")
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
