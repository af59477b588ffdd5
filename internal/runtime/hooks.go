package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
)

// HandlerContext describes one handler invocation to hooks.
type HandlerContext struct {
	HandlerName   string
	Topic         string // keelson topic, before any broker mapping
	MessageUUID   string
	CorrelationID string
	Metadata      metadatapkg.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
}

// HandlerHooks are callbacks around every handler invocation. Nil hooks are
// skipped.
type HandlerHooks struct {
	OnStart func(ctx HandlerContext)
	OnDone  func(ctx HandlerContext)
	OnError func(ctx HandlerContext, err error)
}

// Merge returns hooks calling h first and then other.
func (h HandlerHooks) Merge(other HandlerHooks) HandlerHooks {
	return HandlerHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(HandlerContext)) func(HandlerContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(HandlerContext, error)) func(HandlerContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// HooksMiddleware invokes hooks around every handler on the router.
func HooksMiddleware(hooks HandlerHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return hooksMiddleware(hooks), nil
		},
	}
}

func hooksMiddleware(hooks HandlerHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadatapkg.FromWatermill(msg.Metadata)
			hctx := HandlerContext{
				HandlerName:   message.HandlerNameFromCtx(msg.Context()),
				Topic:         md.Topic(),
				MessageUUID:   msg.UUID,
				CorrelationID: md.CorrelationID(),
				Metadata:      md,
				Context:       msg.Context(),
				StartedAt:     time.Now(),
			}

			if hooks.OnStart != nil {
				hooks.OnStart(hctx)
			}

			msgs, err := h(msg)
			hctx.Duration = time.Since(hctx.StartedAt)

			if err != nil {
				if hooks.OnError != nil {
					hooks.OnError(hctx, err)
				}
			} else if hooks.OnDone != nil {
				hooks.OnDone(hctx)
			}
			return msgs, err
		}
	}
}

// LoggingHooks logs handler starts, completions and failures.
func LoggingHooks(logger loggingpkg.ServiceLogger) HandlerHooks {
	fields := func(ctx HandlerContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			loggingpkg.FieldHandler:    ctx.HandlerName,
			loggingpkg.FieldTopic:      ctx.Topic,
			loggingpkg.FieldMessageID:  ctx.MessageUUID,
			loggingpkg.FieldCorrelated: ctx.CorrelationID,
		}
	}
	return HandlerHooks{
		OnStart: func(ctx HandlerContext) {
			logger.Debug("Handler started", fields(ctx))
		},
		OnDone: func(ctx HandlerContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Handler completed", f)
		},
		OnError: func(ctx HandlerContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Handler failed", err, f)
		},
	}
}

// MetricsHooks forwards handler outcomes to caller-supplied counters.
func MetricsHooks(onStart, onDone, onError func(handlerName, topic string)) HandlerHooks {
	return HandlerHooks{
		OnStart: func(ctx HandlerContext) {
			if onStart != nil {
				onStart(ctx.HandlerName, ctx.Topic)
			}
		},
		OnDone: func(ctx HandlerContext) {
			if onDone != nil {
				onDone(ctx.HandlerName, ctx.Topic)
			}
		},
		OnError: func(ctx HandlerContext, err error) {
			if onError != nil {
				onError(ctx.HandlerName, ctx.Topic)
			}
		},
	}
}
