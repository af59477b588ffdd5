// Package transport is the seam through which the service obtains its
// publisher/subscriber pair. Tests substitute a Factory; production uses the
// transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/keelson/internal/runtime/config"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/transport"

	// Register every built-in transport.
	_ "github.com/drblury/keelson/transport/transports"
)

// Factory abstracts how keelson initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a Factory that always hands out t.
func Static(t transport.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return t, nil
	})
}

// DefaultFactory returns the factory backed by transport.DefaultRegistry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if conf == nil {
		return transport.Transport{}, errspkg.ErrConfigRequired
	}
	return transport.Build(ctx, conf, logger)
}
