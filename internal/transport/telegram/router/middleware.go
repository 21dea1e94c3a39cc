package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "schedbot/pkg/logx"
)

// ErrForbidden is returned when the caller lacks the command's access level.
var ErrForbidden = errors.New("forbidden")

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			switch {
			case err != nil:
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			case d >= 750*time.Millisecond:
				logger.Info("request ok", logx.Duration("dur", d))
			default:
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

// MWAccess rejects callers below the required access level with a reply.
func MWAccess(level Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			allowed := true
			switch level {
			case AccessOwnerOnly:
				allowed = req.IsOwner
			}
			if !allowed {
				_ = req.Reply(ctx, "you are not allowed to use this command")
				return ErrForbidden
			}
			return next(ctx, req)
		}
	}
}
