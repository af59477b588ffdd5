package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/keelson/internal/runtime/envelope"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	idspkg "github.com/drblury/keelson/internal/runtime/ids"
	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
	"github.com/drblury/keelson/internal/runtime/topic"
)

// PublishOption customises a published envelope or its metadata.
type PublishOption func(*publishOptions)

type publishOptions struct {
	envelope []envelope.Option
	metadata metadatapkg.Metadata
}

func applyPublishOptions(opts []PublishOption) publishOptions {
	o := publishOptions{metadata: metadatapkg.Metadata{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithSourceTimestamp records when the payload was produced, in nanoseconds
// since the Unix epoch.
func WithSourceTimestamp(ns int64) PublishOption {
	return func(o *publishOptions) {
		o.envelope = append(o.envelope, envelope.WithSourceTimestamp(ns))
	}
}

// WithSourceTime is WithSourceTimestamp for a time.Time.
func WithSourceTime(t time.Time) PublishOption {
	return WithSourceTimestamp(t.UnixNano())
}

// WithEnclosedAt overrides the enclose time, which defaults to now.
func WithEnclosedAt(ns int64) PublishOption {
	return func(o *publishOptions) {
		o.envelope = append(o.envelope, envelope.WithEnclosedAt(ns))
	}
}

// WithMetadata adds headers to the published message. Reserved keys set by
// the service take precedence.
func WithMetadata(md metadatapkg.Metadata) PublishOption {
	return func(o *publishOptions) {
		o.metadata = o.metadata.WithAll(md)
	}
}

// WithCorrelationID sets the correlation identifier header.
func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.metadata = o.metadata.With(metadatapkg.KeyCorrelationID, id)
	}
}

// NewEnvelopeMessage encloses payload and wraps it in a Watermill message
// carrying the keelson topic and, when non-empty, the tag.
func NewEnvelopeMessage(topicName, tag string, payload []byte, opts ...PublishOption) (*message.Message, error) {
	if topicName == "" {
		return nil, errspkg.ErrTopicRequired
	}
	o := applyPublishOptions(opts)

	md := o.metadata.With(metadatapkg.KeyTopic, topicName)
	if tag != "" {
		md[metadatapkg.KeyTag] = tag
	}

	msg := message.NewMessage(idspkg.CreateULID(), envelope.Enclose(payload, o.envelope...))
	metadatapkg.Apply(msg, md)
	return msg, nil
}

// Publish encloses payload and publishes it on
// {realm}/{entity_id}/{tag}/{sourceID} using the configured realm and entity.
func (s *Service) Publish(ctx context.Context, tag, sourceID string, payload []byte, opts ...PublishOption) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	topicName, err := topic.ConstructPubSubTopic(s.Conf.Realm, s.Conf.EntityID, tag, sourceID)
	if err != nil {
		return err
	}
	return s.publish(ctx, topicName, tag, payload, opts)
}

// PublishProto marshals msg and publishes it like Publish. Well-known tags
// only accept their registered message type.
func (s *Service) PublishProto(ctx context.Context, tag, sourceID string, msg proto.Message, opts ...PublishOption) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if msg == nil {
		return errspkg.ErrMessageTypeRequired
	}
	if err := s.decoder.CheckProto(tag, msg); err != nil {
		return err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return s.Publish(ctx, tag, sourceID, data, opts...)
}

// PublishJSON encodes v as JSON and publishes it like Publish. Well-known
// tags must have the json encoding.
func (s *Service) PublishJSON(ctx context.Context, tag, sourceID string, v any, opts ...PublishOption) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if err := s.decoder.CheckJSON(tag); err != nil {
		return err
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json payload: %w", err)
	}
	return s.Publish(ctx, tag, sourceID, data, opts...)
}

func (s *Service) publish(ctx context.Context, topicName, tag string, payload []byte, opts []PublishOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "keelson.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("keelson.topic", topicName),
			attribute.String("keelson.tag", tag),
			attribute.Int("keelson.payload_bytes", len(payload)),
		),
	)
	defer span.End()

	msg, err := NewEnvelopeMessage(topicName, tag, payload, opts...)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	if err := s.transport.Publisher.Publish(s.transport.Topic(topicName), msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.Logger.Error("Failed to publish", err, loggingpkg.LogFields{
			loggingpkg.FieldTopic:     topicName,
			loggingpkg.FieldMessageID: msg.UUID,
		})
		return fmt.Errorf("publish %s: %w", topicName, err)
	}

	s.metrics.ObservePublished(tag, len(payload))
	s.Logger.Trace("Published", loggingpkg.LogFields{
		loggingpkg.FieldTopic:     topicName,
		loggingpkg.FieldMessageID: msg.UUID,
	})
	return nil
}
