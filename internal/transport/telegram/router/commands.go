// Package router turns Telegram messages into feeder commands.
//
// Commands are registered as space-separated routes ("schedule add") and
// dispatched to a bounded worker pool. Multi-token routes also answer to an
// underscore alias ("/schedule_add") so Telegram's menu can autocomplete them.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"feedbot/internal/metrics"
	rtsup "feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessUser
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessUser:
		return "user"
	case AccessAdmin:
		return "admin"
	default:
		return "everyone"
	}
}

type Command struct {
	// Route is a space-separated command path, e.g. "stats" or "schedule add".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["schedules"]
	Description string
	Usage       string
	Access      Access
	// Switches are boolean flags; they never consume the following word.
	Switches []string

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// Authorizer answers access checks. The feeder authorizer satisfies it.
type Authorizer interface {
	IsUser(userID int64) bool
	IsAdmin(userID int64) bool
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Admin is set when the sender is on the admin list.
	Admin   bool
	Path    []string // matched command path tokens
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Photo returns the attached photo, if any.
func (r *Request) Photo() *kit.Photo {
	if r.Update.Message == nil {
		return nil
	}
	return r.Update.Message.Photo
}

// Reply sends HTML text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

const defaultCommandTimeout = 30 * time.Second

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	log     logx.Logger
	adapter kit.Adapter
	auth    Authorizer
	limits  *senderLimits

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	appSup  *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, auth Authorizer) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		log:     log,
		adapter: adapter,
		auth:    auth,
		limits:  newSenderLimits(DefaultCommandsPerMinute),
		jobs:    make(chan func(), 256),
	}
}

// SetAppSupervisor lets background work such as menu updates stop with the app.
func (m *CommandManager) SetAppSupervisor(sup *rtsup.Supervisor) {
	m.runMu.Lock()
	m.appSup = sup
	m.runMu.Unlock()
}

// SetRateLimit caps commands per sender per minute; 0 restores the default.
func (m *CommandManager) SetRateLimit(perMinute int) { m.limits.set(perMinute) }

// Supervisor returns the dispatcher's worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) allowed(a Access, userID int64) bool {
	switch a {
	case AccessEveryone:
		return true
	case AccessUser:
		return m.auth == nil || m.auth.IsUser(userID)
	default:
		return m.auth != nil && m.auth.IsAdmin(userID)
	}
}

// SetRegistry replaces the command set. /help is always injected.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command] [subcommand]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.FromID))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		// The canonical single-token name must stay out of the alias map,
		// otherwise "/ratio set" would stop at the "ratio" alias.
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
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

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(root, menuCandidates)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
	m.runMu.Lock()
	appSup := m.appSup
	m.runMu.Unlock()
	if appSup != nil {
		appSup.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.Component("telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := range workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)
	// A bare photo is a pellet count request.
	if text == "" && msg.Photo != nil {
		text = "/pellets"
	}
	if !strings.HasPrefix(text, "/") {
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
	word = strings.ToLower(word)
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(root, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		_, _ = m.adapter.SendText(root, chat, "Unknown command. Try /help", nil)
		return
	}
	cur, sub, args := cur.descend(args)
	path := append([]string{word}, sub...)

	// group without a handler of its own
	if cur.cmd == nil {
		_, _ = m.adapter.SendText(root, chat, m.helpText(path, msg.FromID), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(root, up, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !m.allowed(cmd.Access, msg.FromID) {
		m.log.Info("command denied", logx.String("cmd", cmd.Route), logx.Int64("from_id", msg.FromID), logx.String("needs", cmd.Access.String()))
		_, _ = m.adapter.SendText(root, chat, "You are not allowed to use this command.", nil)
		return
	}
	if !m.limits.allow(msg.FromID) {
		metrics.CommandsTotal.WithLabelValues(cmd.Route, "rate_limited").Inc()
		m.log.Info("command rate limited", logx.String("cmd", cmd.Route), logx.Int64("from_id", msg.FromID))
		_, _ = m.adapter.SendText(root, chat, "Too many commands, wait a moment.", nil)
		return
	}

	pos, flags, bools := parseFlags(raw, cmd.Switches)
	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		Admin:     m.allowed(AccessAdmin, msg.FromID),
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(cmd.Handle, Recover(), Observe(), WithTimeout(timeout))

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "Busy, try again.", nil)
	}
}
