package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/keelson/internal/runtime/envelope"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	handlerpkg "github.com/drblury/keelson/internal/runtime/handlers"
	idspkg "github.com/drblury/keelson/internal/runtime/ids"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
	"github.com/drblury/keelson/internal/runtime/topic"
)

// ReplyTag is the tag segment of the per-request reply topics,
// {realm}/{entity_id}/rpc_reply/{correlation_id}.
const ReplyTag = "rpc_reply"

// Reply is the uncovered answer to a query.
type Reply struct {
	Envelope envelope.Uncovered
	Payload  []byte
	Metadata metadatapkg.Metadata
}

// RegisterQueryable serves procedure on {realm}/{entity_id}/rpc/{procedure}
// for the service's own entity. Handler errors are returned to the caller as
// a *QueryError.
func RegisterQueryable(svc *Service, cfg handlerpkg.QueryableRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	adapter, err := handlerpkg.BuildQueryAdapter(cfg.Handler)
	if err != nil {
		return err
	}
	return svc.registerQueryable(cfg.Name, cfg.Procedure, adapter)
}

// RegisterProtoQueryable is RegisterQueryable with protobuf request and
// response messages.
func RegisterProtoQueryable[Req, Resp proto.Message](svc *Service, cfg handlerpkg.ProtoQueryableRegistration[Req, Resp]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	var zero Req
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}
	adapter, err := handlerpkg.BuildProtoQueryAdapter(prototype, cfg.Handler)
	if err != nil {
		return err
	}
	return svc.registerQueryable(cfg.Name, cfg.Procedure, adapter)
}

func (s *Service) registerQueryable(name, procedure string, adapter handlerpkg.QueryAdapter) error {
	topicName, err := topic.ConstructReqRepTopic(s.Conf.Realm, s.Conf.EntityID, procedure)
	if err != nil {
		return err
	}
	if name == "" {
		name = topicName
	}
	return s.addHandler(HandlerInfo{
		Name:        name,
		Kind:        HandlerKindQueryable,
		Topic:       topicName,
		BrokerTopic: s.transport.Topic(topicName),
	}, s.queryHandler(name, topicName, adapter))
}

func (s *Service) queryHandler(name, topicName string, adapter handlerpkg.QueryAdapter) message.NoPublishHandlerFunc {
	parsed, _ := topic.ParseReqRepTopic(topicName)
	logger := s.Logger.With(loggingpkg.LogFields{
		loggingpkg.FieldHandler:   name,
		loggingpkg.FieldProcedure: parsed.Procedure,
	})

	return func(msg *message.Message) error {
		md := metadatapkg.FromWatermill(msg.Metadata)
		replyTo := md.ReplyTo()
		fields := loggingpkg.LogFields{
			loggingpkg.FieldMessageID:  msg.UUID,
			loggingpkg.FieldCorrelated: md.CorrelationID(),
		}
		if replyTo == "" {
			logger.Error("Dropping query without reply topic", errspkg.ErrTopicRequired, fields)
			return nil
		}

		req := handlerpkg.RequestContext{
			MessageContextBase: handlerpkg.MessageContextBase{Metadata: md, Logger: logger},
			Topic:              parsed,
		}

		payload, err := s.answer(msg, &req, adapter)
		if err != nil {
			logger.Error("Query failed", err, fields)
			return s.reply(msg.Context(), replyTo, md.CorrelationID(), nil, err.Error())
		}
		return s.reply(msg.Context(), replyTo, md.CorrelationID(), payload, "")
	}
}

func (s *Service) answer(msg *message.Message, req *handlerpkg.RequestContext, adapter handlerpkg.QueryAdapter) ([]byte, error) {
	uncovered, err := envelope.Uncover(msg.Payload)
	if err != nil {
		return nil, err
	}
	req.Envelope = uncovered

	value, err := adapter.Decode(uncovered.Payload)
	if err != nil {
		return nil, err
	}
	return adapter.Handle(msg.Context(), *req, value)
}

func (s *Service) reply(ctx context.Context, replyTo, correlationID string, payload []byte, remoteErr string) error {
	opts := []PublishOption{WithCorrelationID(correlationID)}
	if remoteErr != "" {
		opts = append(opts, WithMetadata(metadatapkg.New(metadatapkg.KeyError, remoteErr)))
	}
	msg, err := NewEnvelopeMessage(replyTo, ReplyTag, payload, opts...)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := s.transport.Publisher.Publish(s.transport.Topic(replyTo), msg); err != nil {
		return fmt.Errorf("publish reply to %s: %w", replyTo, err)
	}
	return nil
}

// Query sends payload to procedure on entityID in the service's realm and
// waits for the reply. It returns a *QueryError when the remote handler
// failed, and the context error when neither a reply nor QueryTimeout
// arrived first.
func (s *Service) Query(ctx context.Context, entityID, procedure string, payload []byte, opts ...PublishOption) (reply Reply, err error) {
	if s == nil {
		return Reply{}, errspkg.ErrServiceRequired
	}
	requestTopic, err := topic.ConstructReqRepTopic(s.Conf.Realm, entityID, procedure)
	if err != nil {
		return Reply{}, err
	}

	correlationID := idspkg.CreateULID()
	replyTopic, err := topic.ConstructPubSubTopic(s.Conf.Realm, s.Conf.EntityID, ReplyTag, correlationID)
	if err != nil {
		return Reply{}, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.Conf.EffectiveQueryTimeout())
	defer cancel()

	started := time.Now()
	defer func() {
		s.metrics.ObserveQuery(procedure, time.Since(started), err)
	}()

	replies, err := s.transport.Subscriber.Subscribe(ctx, s.transport.Topic(replyTopic))
	if err != nil {
		return Reply{}, fmt.Errorf("subscribe %s: %w", replyTopic, err)
	}

	opts = append(opts,
		WithCorrelationID(correlationID),
		WithMetadata(metadatapkg.New(metadatapkg.KeyReplyTo, replyTopic)),
	)
	if err := s.publish(ctx, requestTopic, "", payload, opts); err != nil {
		return Reply{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return Reply{}, fmt.Errorf("query %s: %w", requestTopic, ctx.Err())
		case msg, ok := <-replies:
			if !ok {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Reply{}, fmt.Errorf("query %s: %w", requestTopic, ctxErr)
				}
				return Reply{}, fmt.Errorf("query %s: reply subscription closed", requestTopic)
			}
			msg.Ack()

			md := metadatapkg.FromWatermill(msg.Metadata)
			if md.CorrelationID() != correlationID {
				continue
			}
			if remote, failed := md.Error(); failed {
				return Reply{Metadata: md}, &errspkg.QueryError{Procedure: procedure, Message: remote}
			}
			uncovered, err := envelope.Uncover(msg.Payload)
			if err != nil {
				return Reply{}, err
			}
			return Reply{Envelope: uncovered, Payload: uncovered.Payload, Metadata: md}, nil
		}
	}
}

// QueryProto marshals req, queries procedure on entityID and unmarshals the
// reply into Resp.
func QueryProto[Resp proto.Message](ctx context.Context, svc *Service, entityID, procedure string, req proto.Message, opts ...PublishOption) (Resp, error) {
	var zero Resp
	if svc == nil {
		return zero, errspkg.ErrServiceRequired
	}
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return zero, err
	}

	var data []byte
	if req != nil {
		data, err = proto.Marshal(req)
		if err != nil {
			return zero, fmt.Errorf("marshal %s: %w", req.ProtoReflect().Descriptor().FullName(), err)
		}
	}

	reply, err := svc.Query(ctx, entityID, procedure, data, opts...)
	if err != nil {
		return zero, err
	}
	return handlerpkg.UnmarshalProto(prototype, reply.Payload)
}

// IsQueryError reports whether err carries a remote handler failure and
// returns it.
func IsQueryError(err error) (*errspkg.QueryError, bool) {
	var qe *errspkg.QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
