// Package runtime binds the keelson conventions to a Watermill message bus.
//
// # Architecture Overview
//
// A Service owns one transport (publisher and subscriber), a Watermill router
// and the payload decoder built from a tag registry and a schema pool. Every
// message it publishes is an enclosed envelope on a keelson topic; every
// message it receives is uncovered and, for well-known tags, decoded before the
// handler sees it.
//
// # Package Structure
//
// ## Core Service (service.go)
//
// NewService validates the configuration, loads the tag registry and the
// descriptor bundle (bundled resources unless the configuration names files),
// builds the transport through the transport registry and installs the default
// middleware chain.
//
// ## Publishing (publisher.go)
//
// Publish, PublishProto and PublishJSON build {realm}/{entity_id}/{tag}/{source_id}
// from the configured realm and entity and enclose the payload.
//
// ## Subscribers (subscriber.go)
//
// RegisterSubscriber, RegisterProtoSubscriber and RegisterJSONSubscriber accept
// concrete topics and, on transports that support them, key expressions such as
// rise/*/rudder_angle/**. Malformed envelopes and undecodable payloads are
// logged, counted and acknowledged.
//
// ## Queries (queryable.go)
//
// RegisterQueryable serves {realm}/{entity_id}/rpc/{procedure}; Query sends a
// request carrying a reply topic and correlation id and waits for the answer.
//
// ## Middleware (middleware.go, hooks.go)
//
//   - CorrelationID: ensures every message carries a correlation id
//   - LogMessages: debug logging of handled messages
//   - Tracer: OpenTelemetry consumer spans
//   - Metrics: Watermill router metrics and the /metrics endpoint
//   - PoisonQueue: optional dead letter topic
//   - Retry: optional exponential backoff
//   - Recoverer: panic recovery
//
// # Sub-packages
//
//   - topic/: topic construction, parsing and key expressions
//   - envelope/: the enclose/uncover wire codec
//   - tags/: the well-known tag registry
//   - schema/: descriptor pool and descriptor sets
//   - payload/: tag to codec resolution and decoding
//   - handlers/: sample and request contexts, typed adapters
//   - config/, errors/, logging/, metadata/, metrics/, ids/, jsoncodec/
//   - transport/: the factory the service builds transports with
package runtime
