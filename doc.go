// Package keelson is a thin convention layer over a Watermill message bus for
// vessel and sensor data. Every sample is published on
// {realm}/{entity_id}/{tag}/{source_id}, every query on
// {realm}/{entity_id}/rpc/{procedure}, and every payload travels inside an
// envelope recording when it was enclosed and, optionally, when the source
// produced it.
//
// The core needs no bus at all: ConstructPubSubTopic and ParsePubSubTopic
// build and split topics, Enclose and Uncover implement the envelope wire
// format, DefaultTags maps well-known tags to their encoding and
// DefaultSchemaPool decodes protobuf payloads from the bundled descriptor set.
//
// Service binds these conventions to a transport chosen by Config.PubSubSystem
// (channel, nats, nats-jetstream, kafka, rabbitmq, http, aws or io).
// Publish, PublishProto and PublishJSON enclose and publish samples;
// RegisterSubscriber and its typed variants uncover and decode them;
// RegisterQueryable and Service.Query implement request/reply.
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, structured
// logging, OpenTelemetry tracing, Prometheus router metrics, optional poison
// queue forwarding and retries, and panic recovery. Custom middleware can be
// added via ServiceDependencies.Middlewares, and HooksMiddleware exposes
// OnStart, OnDone and OnError callbacks around every handler.
package keelson
