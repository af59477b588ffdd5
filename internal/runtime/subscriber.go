package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/keelson/internal/runtime/envelope"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	handlerpkg "github.com/drblury/keelson/internal/runtime/handlers"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
	metricspkg "github.com/drblury/keelson/internal/runtime/metrics"
	"github.com/drblury/keelson/internal/runtime/topic"
)

// RegisterSubscriber subscribes a raw sample handler. Samples on well-known
// tags arrive decoded; others carry only their raw payload.
func RegisterSubscriber(svc *Service, cfg handlerpkg.SubscriberRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	adapter, err := handlerpkg.BuildSampleAdapter(svc.decoder, cfg.Handler)
	if err != nil {
		return err
	}
	return svc.registerSubscriber(cfg.Name, cfg.Topic, adapter)
}

// RegisterProtoSubscriber subscribes a handler receiving payloads unmarshalled
// into T. When the topic names a well-known tag, T must be its registered type.
func RegisterProtoSubscriber[T proto.Message](svc *Service, cfg handlerpkg.ProtoSubscriberRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}
	if tag, ok := concreteTag(cfg.Topic); ok {
		if err := svc.decoder.CheckProto(tag, prototype); err != nil {
			return err
		}
	}

	adapter, err := handlerpkg.BuildProtoAdapter(prototype, cfg.Handler)
	if err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s:%s", cfg.Topic, prototype.ProtoReflect().Descriptor().FullName())
	}
	return svc.registerSubscriber(name, cfg.Topic, adapter)
}

// RegisterJSONSubscriber subscribes a handler receiving JSON payloads
// unmarshalled into T, which must be a pointer type.
func RegisterJSONSubscriber[T any](svc *Service, cfg handlerpkg.JSONSubscriberRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if tag, ok := concreteTag(cfg.Topic); ok {
		if err := svc.decoder.CheckJSON(tag); err != nil {
			return err
		}
	}

	adapter, err := handlerpkg.BuildJSONAdapter(cfg.Handler)
	if err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		var zero T
		name = fmt.Sprintf("%s:%T", cfg.Topic, zero)
	}
	return svc.registerSubscriber(name, cfg.Topic, adapter)
}

// concreteTag returns the tag of pattern when that segment is not a wildcard.
func concreteTag(pattern string) (string, bool) {
	tag, err := topic.TagFromPubSubTopic(pattern)
	if err != nil || tag == topic.SingleWildcard || tag == topic.MultiWildcard {
		return "", false
	}
	return tag, true
}

func (s *Service) registerSubscriber(name, pattern string, adapter handlerpkg.Adapter) error {
	if pattern == "" {
		return errspkg.ErrTopicRequired
	}
	if topic.IsKeyExpr(pattern) {
		if !s.capabilities.SupportsKeyExpr {
			return fmt.Errorf("%w: %s on %q", errspkg.ErrKeyExprUnsupported, pattern, s.capabilities.Name)
		}
	} else if _, err := topic.ParsePubSubTopic(pattern); err != nil {
		return err
	}

	return s.addHandler(HandlerInfo{
		Name:        name,
		Kind:        HandlerKindSubscriber,
		Topic:       pattern,
		BrokerTopic: s.transport.Topic(pattern),
	}, s.sampleHandler(name, pattern, adapter))
}

// sampleHandler drops, and acknowledges, messages that are not well-formed
// keelson samples or whose topic is not matched by pattern. Broker topic
// mappings may fold distinct topics together, so the metadata topic is
// checked again here. Only handler failures are returned to the router.
func (s *Service) sampleHandler(name, pattern string, adapter handlerpkg.Adapter) message.NoPublishHandlerFunc {
	logger := s.Logger.With(loggingpkg.LogFields{loggingpkg.FieldHandler: name})

	return func(msg *message.Message) error {
		md := metadatapkg.FromWatermill(msg.Metadata)
		topicName := md.Topic()
		if topicName == "" {
			topicName = message.SubscribeTopicFromCtx(msg.Context())
		}
		fields := loggingpkg.LogFields{
			loggingpkg.FieldTopic:     topicName,
			loggingpkg.FieldMessageID: msg.UUID,
		}

		parsed, err := topic.ParsePubSubTopic(topicName)
		if err != nil {
			s.drop(logger, md.Tag(), metricspkg.ReasonTopicFormat, err, fields)
			return nil
		}
		fields[loggingpkg.FieldTag] = parsed.Tag
		if !topic.Match(pattern, topicName) {
			s.drop(logger, parsed.Tag, metricspkg.ReasonTopicFormat,
				&errspkg.TopicFormatError{Topic: topicName, Format: pattern}, fields)
			return nil
		}

		uncovered, err := envelope.Uncover(msg.Payload)
		if err != nil {
			s.drop(logger, parsed.Tag, metricspkg.ReasonMalformedEnvelope, err, fields)
			return nil
		}

		value, err := adapter.Decode(parsed.Tag, uncovered.Payload)
		if err != nil {
			s.drop(logger, parsed.Tag, decodeReason(err), err, fields)
			return nil
		}

		s.metrics.ObserveReceived(parsed.Tag, uncovered.EnclosedAt, uncovered.ReceivedAt,
			uncovered.SourceTimestamp, uncovered.HasSourceTimestamp)

		sample := handlerpkg.SampleContext{
			MessageContextBase: handlerpkg.MessageContextBase{
				Metadata: md,
				Logger:   logger.With(loggingpkg.LogFields{loggingpkg.FieldTopic: topicName}),
			},
			Topic:    parsed,
			Envelope: uncovered,
		}
		if err := adapter.Handle(msg.Context(), sample, value); err != nil {
			logger.Error("Subscriber handler failed", err, fields)
			return err
		}
		return nil
	}
}

func decodeReason(err error) string {
	if errors.Is(err, errspkg.ErrUnknownSchema) || errors.Is(err, errspkg.ErrUnknownTag) {
		return metricspkg.ReasonUnknownTag
	}
	return metricspkg.ReasonDecode
}

func (s *Service) drop(logger loggingpkg.ServiceLogger, tag, reason string, err error, fields loggingpkg.LogFields) {
	s.metrics.ObserveDropped(tag, reason)
	fields["reason"] = reason
	logger.Error("Dropping message", err, fields)
}
