// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/keelson/transport/aws"
	_ "github.com/drblury/keelson/transport/channel"
	_ "github.com/drblury/keelson/transport/http"
	_ "github.com/drblury/keelson/transport/io"
	_ "github.com/drblury/keelson/transport/jetstream"
	_ "github.com/drblury/keelson/transport/kafka"
	_ "github.com/drblury/keelson/transport/nats"
	_ "github.com/drblury/keelson/transport/rabbitmq"
)
