package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest is where a successful handler is logged at info.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

func loggerFor(fallback logx.Logger, req *Request) logx.Logger {
	if req == nil || req.Logger.IsZero() {
		return fallback
	}
	return req.Logger
}

// MWTimeout bounds the handler context. d <= 0 leaves it unbounded.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so one bad update cannot
// kill a worker.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				loggerFor(log, req).Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs each handled update with its duration.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(log, req).With(logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took))
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				l.Warn("handler timed out", logx.Err(err))
			case err != nil:
				l.Warn("handler failed", logx.Err(err))
			case took >= slowRequest:
				l.Info("handler slow")
			default:
				l.Debug("handled")
			}
			return err
		}
	}
}
