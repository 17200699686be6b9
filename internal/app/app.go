package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/config"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	"remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	*components

	updates  chan transport.Update
	stopOnce sync.Once
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		AllowedChats: cfg.Telegram.AllowedChats,
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// The adapter doubles as the sink for chat log lines.
	logSvc, log := logx.New(cfg.LogConfig(), ad)
	cfgm.SetLogger(log)

	comps, err := buildComponents(cfg, ad, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		adapter:    ad,
		components: comps,
		updates:    make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app stops on its own (fatal error) or via Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if err := a.startCore(a.sup.Context(), cfg); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu not updated", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("prefix", a.svc.Prefix()))
	return nil
}

// startCore starts everything that does not talk to Telegram directly:
// the notifier, restart recovery, the resync schedule and the store watcher.
func (a *App) startCore(ctx context.Context, cfg *config.Config) error {
	// Stop drains the queue, so workers outlive ctx.
	a.notif.Start(context.WithoutCancel(ctx))

	if cfg.RecoverOnStart() {
		n, err := a.svc.Recover(ctx)
		if err != nil {
			// some users may still be armed; keep going
			a.log.Warn("reminder recovery incomplete", logx.Int("armed", n), logx.Err(err))
		}
	}

	if err := a.svc.StartResync(ctx, cfg.Reminder.Resync); err != nil {
		return fmt.Errorf("reminder.resync: %w", err)
	}

	if cfg.Storage.Watch {
		w, err := storage.NewWatcher(a.backend, a.log, func(id calendar.Identifier) {
			a.svc.SyncUser(ctx, id)
		})
		switch {
		case errors.Is(err, storage.ErrNotWatchable):
			a.log.Warn("storage.watch ignored: backend has no directory")
		case err != nil:
			return err
		default:
			a.sup.GoRestart("storage.watch", w.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
		}
	}
	return nil
}

// applyConfig pushes the hot-reloadable parts of next into running
// components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)

	if ch.Logging {
		a.logs.Apply(next.LogConfig())
	}
	if ch.Notifier {
		if nc, err := next.NotifierConfig(); err == nil {
			a.notif.Apply(nc)
			// no-op when already running
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}
	if ch.Resync {
		if err := a.svc.StartResync(ctx, next.Reminder.Resync); err != nil {
			a.log.Warn("resync schedule not changed", logx.Err(err))
		}
	}
	if ch.Chats && a.adapter != nil {
		a.adapter.SetAllowedChats(next.Telegram.AllowedChats)
	}
	if ch.Restart {
		a.log.Warn("telegram, storage or bot settings changed; restart to apply them")
	}
}

// Stop shuts down in dependency order. Each step is bounded so one stuck
// component cannot hold up the rest. Safe to call more than once.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, a.log, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.adapter != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("scheduler", time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	sent, failed := a.notif.Stats()
	a.log.Info("stopped", logx.Uint64("reminders_sent", sent), logx.Uint64("reminders_failed", failed))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// runStep runs fn with at most limit (never past ctx's own deadline). A step
// that overruns is logged and left behind.
func runStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		log.Warn("stop step skipped: no time left", logx.String("name", name))
		return context.DeadlineExceeded
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-sctx.Done():
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return sctx.Err()
	}
}
