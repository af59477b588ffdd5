// Package transport defines the publisher/subscriber pair a keelson service
// runs on. Each backend (kafka, rabbitmq, nats, aws, ...) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// MapTopic rewrites a keelson topic into a name the broker accepts. Nil
	// leaves topics untouched. The original topic always travels in the
	// message metadata.
	MapTopic func(string) string
}

// Topic returns the broker-side name for a keelson topic.
func (t Transport) Topic(topic string) string {
	if t.MapTopic == nil {
		return topic
	}
	return t.MapTopic(topic)
}

// Close closes the publisher and the subscriber, once each when they are the
// same value.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		if closer, ok := t.Subscriber.(message.Publisher); !ok || closer != t.Publisher {
			errs = append(errs, t.Subscriber.Close())
		}
	}
	return errors.Join(errs...)
}

var dotEscaper = strings.NewReplacer("-", "--", ".", "-_", "/", ".")

// DotTopic replaces the topic delimiter with dots, for brokers that reserve
// '/' in names (Kafka topics, NATS and JetStream subjects). Dots and dashes
// already in the topic are escaped with '-', so r/e/t/a.b and r/e/t/a/b map to
// different names.
func DotTopic(topic string) string {
	return dotEscaper.Replace(topic)
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// GetEntityID names the subscribing entity. Durable broker-side
	// subscriptions (queues, consumers) are scoped to it.
	GetEntityID() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSStream() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
