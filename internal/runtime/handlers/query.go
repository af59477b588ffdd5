package handlers

import (
	"context"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

// QueryAdapter is the untyped form of a queryable. Decode and Handle failures
// are both reported back to the caller as errors.
type QueryAdapter struct {
	Decode func(data []byte) (any, error)
	Handle func(ctx context.Context, req RequestContext, value any) ([]byte, error)
}

// Request is a received query with its raw payload.
type Request struct {
	RequestContext
	Payload []byte
}

// QueryHandler answers a raw query with the reply payload.
type QueryHandler func(ctx context.Context, req Request) ([]byte, error)

// QueryableRegistration declares a raw queryable on the service's own entity.
type QueryableRegistration struct {
	Name      string
	Procedure string
	Handler   QueryHandler
}

// BuildQueryAdapter passes the payload through untouched.
func BuildQueryAdapter(handler QueryHandler) (QueryAdapter, error) {
	if handler == nil {
		return QueryAdapter{}, errspkg.ErrHandlerRequired
	}
	return QueryAdapter{
		Decode: func(data []byte) (any, error) { return data, nil },
		Handle: func(ctx context.Context, req RequestContext, value any) ([]byte, error) {
			return handler(ctx, Request{RequestContext: req, Payload: value.([]byte)})
		},
	}, nil
}
