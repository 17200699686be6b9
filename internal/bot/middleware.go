package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/pkg/logx"
)

// HandlerFunc handles one routed command.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowCommand is the duration above which a successful command is logged at
// info level.
const slowCommand = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// logger prefers the per-request logger, which already carries rid and chat.
func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return fallback
	}
	return r.Logger
}

// MWTimeout bounds the command. d <= 0 disables it.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a panic in a command into an error so the worker
// survives.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					req.logger(log).Error("command panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("command panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every command once with its duration. Failures are warnings,
// slow commands info, the rest debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := req.logger(log)
			if req.Logger.IsZero() {
				l = l.With(logx.Int64("chat_id", req.Chat.ChatID), logx.Int64("from_id", req.FromID), logx.String("cmd", req.Command))
			}
			switch {
			case err != nil:
				l.Warn("command failed", logx.Duration("took", took), logx.Err(err))
			case took >= slowCommand:
				l.Info("command slow", logx.Duration("took", took))
			default:
				l.Debug("command done", logx.Duration("took", took))
			}
			return err
		}
	}
}
