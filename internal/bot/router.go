package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"remindbot/internal/calendar"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// Request is one addressed message on its way through the middleware chain.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string // for logs, e.g. "calendar create"
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Router reads updates, keeps the ones addressed to the bot and runs them on
// a bounded worker pool.
type Router struct {
	svc     *Service
	sender  transport.Sender
	log     logx.Logger
	workers int
	timeout time.Duration

	jobs chan func()

	runMu   sync.Mutex
	running bool
}

type RouterOption func(*Router)

func WithWorkers(n int) RouterOption { return func(r *Router) { r.workers = n } }

// WithTimeout bounds one command, reply excluded.
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.timeout = d } }

func WithQueueSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

func NewRouter(svc *Service, sender transport.Sender, log logx.Logger, opts ...RouterOption) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		svc:     svc,
		sender:  sender,
		log:     log.With(logx.String("comp", "router")),
		workers: 4,
		timeout: 15 * time.Second,
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	return r
}

// MenuCommands is the Telegram command menu for the configured prefix. Empty
// when the prefix is not a slash command.
func (r *Router) MenuCommands() []transport.BotCommand {
	p := r.svc.Prefix()
	if !strings.HasPrefix(p, "/") || len(p) < 2 {
		return nil
	}
	return []transport.BotCommand{{Command: p[1:], Description: "Calendar reminders (" + p + " help)"}}
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false // jobs closed during shutdown
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop blocks until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return fmt.Errorf("dispatch loop already running")
	}
	r.running = true
	r.runMu.Unlock()

	sup := supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
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
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	args, ok := Split(r.svc.Prefix(), msg.Text)
	if !ok {
		return
	}

	rid := xid.New().String()
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: commandName(args),
		Args:    args,
		ReqID:   rid,
	}
	req.Logger = r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", req.Command),
	)

	final := Chain(r.handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.sender.SendText(ctx, req.Chat, "⏳ Busy, try again in a moment.", nil)
	}
}

func (r *Router) handle(ctx context.Context, req *Request) error {
	var (
		reply Reply
		err   error
	)
	id, err := calendar.IdentifierFromInt64(req.FromID)
	if err == nil {
		var cmd Command
		if cmd, err = Parse(r.svc.Prefix(), req.Args); err == nil {
			reply, err = r.svc.Execute(ctx, Caller{ID: id, Chat: req.Chat}, cmd)
		}
	}
	text := reply.Text
	if err != nil {
		text = UserMessage(err)
	}

	// The command may have used up ctx; the answer still goes out.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, serr := r.sender.SendText(sctx, req.Chat, text, &transport.SendOptions{DisablePreview: true}); serr != nil {
		return fmt.Errorf("reply: %w", serr)
	}
	if err != nil && !IsUserError(err) {
		return err
	}
	return nil
}

func commandName(args []string) string {
	switch {
	case len(args) == 0:
		return "help"
	case len(args) > 1 && strings.EqualFold(args[0], "calendar"):
		return strings.ToLower(args[0] + " " + args[1])
	default:
		return strings.ToLower(args[0])
	}
}
