package router

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // overrides Options.Timeout when > 0
	Handle      HandlerFunc
}

// Request is one command invocation.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args are the whitespace-separated arguments; RawArgs is the text after
	// the command word, untouched.
	Args    []string
	RawArgs string
	ReqID   string
	IsOwner bool

	Adapter kit.Adapter
	Logger  logx.Logger

	admins kit.AdminChecker
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// CanManage reports whether the caller may manage scheduled messages for chatID:
// owners always may, others must administer that chat.
func (r *Request) CanManage(ctx context.Context, chatID int64) (bool, error) {
	if r.IsOwner {
		return true, nil
	}
	if r.admins == nil {
		return false, nil
	}
	return r.admins.IsChatAdmin(ctx, chatID, r.FromID)
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Router dispatches command messages to handlers on a bounded worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	admins  kit.AdminChecker
	opts    Options

	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []*Command
	owners   []int64
	username string

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, admins kit.AdminChecker, owners []int64, opts Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Router{
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		admins:   admins,
		opts:     opts,
		commands: map[string]*Command{},
		owners:   slices.Clone(owners),
		jobs:     make(chan func(), opts.QueueSize),
	}
}

// SetOwners replaces the owner list. Safe during config reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

// SetTimeout changes the default command timeout.
func (r *Router) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.opts.Timeout = d
	r.mu.Unlock()
}

// SetUsername lets the router accept "/cmd@username" only when addressed to this bot.
func (r *Router) SetUsername(name string) {
	r.mu.Lock()
	r.username = strings.ToLower(strings.TrimPrefix(name, "@"))
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Supervisor returns the worker pool supervisor (nil when not dispatching).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// SetRegistry installs the command set and a generated /help, then pushes the
// command menu to the adapter when it supports one.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText(req.Args))
		},
	})

	byName := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
	}
	// Aliases never shadow a real command name.
	for _, c := range ordered {
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, taken := byName[sa]; !taken {
					byName[sa] = c
				}
			}
		}
	}

	r.mu.Lock()
	r.commands = byName
	r.ordered = ordered
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// DispatchLoop reads updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i := 0; i < r.opts.Workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.opts.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.routeMessage(ctx, up)
			}
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	word, raw, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	name, target, _ := strings.Cut(word, "@")
	r.mu.RLock()
	me := r.username
	r.mu.RUnlock()
	if target != "" && me != "" && !strings.EqualFold(target, me) {
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, found := r.lookup(strings.ToLower(name))
	if !found {
		// Stay quiet in groups, where other bots' commands are common.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    strings.Fields(raw),
		RawArgs: raw,
		ReqID:   rid,
		IsOwner: r.isOwner(msg.FromID),
		Adapter: r.adapter,
		admins:  r.admins,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		r.mu.RLock()
		timeout = r.opts.Timeout
		r.mu.RUnlock()
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
		MWAccess(cmd.Access),
	)

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = r.adapter.SendText(ctx, chat, "busy, try again in a moment", nil)
	}
}
