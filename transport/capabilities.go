package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the registered name of the transport.
	Name string

	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPersistence indicates samples published without a live
	// subscriber are kept for later delivery.
	SupportsPersistence bool

	// SupportsKeyExpr indicates subscriptions accept '*' and '**' patterns
	// instead of exact topics.
	SupportsKeyExpr bool

	// RewritesTopics indicates the transport maps keelson topics to another
	// naming scheme through Transport.MapTopic.
	RewritesTopics bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                "kafka",
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsPersistence: true,
		RewritesTopics:      true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsNack:        true,
		SupportsPersistence: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		RewritesTopics: true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:                "nats-jetstream",
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsNack:        true,
		SupportsPersistence: true,
		RewritesTopics:      true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	AWSCapabilities = Capabilities{
		Name:                "aws",
		SupportsAck:         true,
		SupportsNack:        true,
		SupportsPersistence: true,
		RewritesTopics:      true,
		MaxMessageSize:      262144, // 256KB
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsKeyExpr:  true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
