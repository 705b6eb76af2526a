package natsx

import (
	"context"

	"PPChat/logger"
	"PPChat/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, msg *nats.Msg) error

// Middleware wraps a Handler (logging, recovery, metrics).
type Middleware func(Handler) Handler

func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a panic in h into an error.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LogErrors logs failed messages and swallows the error.
func LogErrors() Middleware {
	log := logger.Named("natsx")
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) error {
			if err := next(ctx, msg); err != nil {
				log.Warn("nats message failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return nil
		}
	}
}

// Adapt exposes h as a nats callback.
func Adapt(ctx context.Context, h Handler) nats.MsgHandler {
	return func(msg *nats.Msg) { _ = h(ctx, msg) }
}
