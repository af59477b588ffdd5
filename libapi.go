package keelson

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/keelson/internal/runtime"
	configpkg "github.com/drblury/keelson/internal/runtime/config"
	"github.com/drblury/keelson/internal/runtime/envelope"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	handlerpkg "github.com/drblury/keelson/internal/runtime/handlers"
	idspkg "github.com/drblury/keelson/internal/runtime/ids"
	jsoncodec "github.com/drblury/keelson/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
	metricspkg "github.com/drblury/keelson/internal/runtime/metrics"
	"github.com/drblury/keelson/internal/runtime/payload"
	"github.com/drblury/keelson/internal/runtime/schema"
	"github.com/drblury/keelson/internal/runtime/tags"
	"github.com/drblury/keelson/internal/runtime/topic"
	transportpkg "github.com/drblury/keelson/internal/runtime/transport"
	"github.com/drblury/keelson/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	TransportFactory    = transportpkg.Factory
	HandlerInfo         = runtimepkg.HandlerInfo
	HandlerKind         = runtimepkg.HandlerKind

	// Topics
	PubSubTopic = topic.PubSubTopic
	ReqRepTopic = topic.ReqRepTopic

	// Envelopes
	Envelope        = envelope.Envelope
	Uncovered       = envelope.Uncovered
	EnvelopeOption  = envelope.Option
	PublishOption   = runtimepkg.PublishOption
	Reply           = runtimepkg.Reply
	EnvelopeMetrics = metricspkg.Envelope
	MetricsSnapshot = metricspkg.Snapshot

	// Tags, schemas and decoded payloads
	TagRegistry  = tags.Registry
	TagEntry     = tags.Entry
	SchemaPool   = schema.Pool
	Decoder      = payload.Decoder
	PayloadValue = payload.Value

	// Handlers
	MessageContextBase                                  = handlerpkg.MessageContextBase
	SampleContext                                       = handlerpkg.SampleContext
	RequestContext                                      = handlerpkg.RequestContext
	Sample                                              = handlerpkg.Sample
	SampleHandler                                       = handlerpkg.SampleHandler
	SubscriberRegistration                              = handlerpkg.SubscriberRegistration
	ProtoSample[T proto.Message]                        = handlerpkg.ProtoSample[T]
	ProtoSampleHandler[T proto.Message]                 = handlerpkg.ProtoSampleHandler[T]
	ProtoSubscriberRegistration[T proto.Message]        = handlerpkg.ProtoSubscriberRegistration[T]
	JSONSample[T any]                                   = handlerpkg.JSONSample[T]
	JSONSampleHandler[T any]                            = handlerpkg.JSONSampleHandler[T]
	JSONSubscriberRegistration[T any]                   = handlerpkg.JSONSubscriberRegistration[T]
	Request                                             = handlerpkg.Request
	QueryHandler                                        = handlerpkg.QueryHandler
	QueryableRegistration                               = handlerpkg.QueryableRegistration
	ProtoRequest[T proto.Message]                       = handlerpkg.ProtoRequest[T]
	ProtoQueryHandler[Req, Resp proto.Message]          = handlerpkg.ProtoQueryHandler[Req, Resp]
	ProtoQueryableRegistration[Req, Resp proto.Message] = handlerpkg.ProtoQueryableRegistration[Req, Resp]

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Handler lifecycle hooks
	HandlerContext = runtimepkg.HandlerContext
	HandlerHooks   = runtimepkg.HandlerHooks

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Typed errors
	InvalidFieldError      = errspkg.InvalidFieldError
	TopicFormatError       = errspkg.TopicFormatError
	MalformedEnvelopeError = errspkg.MalformedEnvelopeError
	UnknownTagError        = errspkg.UnknownTagError
	UnknownSchemaError     = errspkg.UnknownSchemaError
	DecodeError            = errspkg.DecodeError
	ConfigLoadError        = errspkg.ConfigLoadError
	QueryError             = errspkg.QueryError

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfigFile = configpkg.LoadFile

	ConstructPubSubTopic     = topic.ConstructPubSubTopic
	ConstructReqRepTopic     = topic.ConstructReqRepTopic
	ParsePubSubTopic         = topic.ParsePubSubTopic
	ParseReqRepTopic         = topic.ParseReqRepTopic
	TagFromPubSubTopic       = topic.TagFromPubSubTopic
	ProcedureFromReqRepTopic = topic.ProcedureFromReqRepTopic
	PubSubKeyExpr            = topic.PubSubKeyExpr
	MatchTopic               = topic.Match

	Enclose             = envelope.Enclose
	Uncover             = envelope.Uncover
	WithEnclosedAt      = envelope.WithEnclosedAt
	WithSourceTimestamp = envelope.WithSourceTimestamp

	DefaultTags        = tags.Default
	ParseTags          = tags.Parse
	LoadTagsFile       = tags.LoadFile
	NewTagRegistry     = tags.New
	DefaultSchemaPool  = schema.Default
	LoadSchemaBundle   = schema.LoadBundleFile
	NewSchemaPool      = schema.NewPool
	NewDecoder         = payload.NewDecoder
	AssembleDescriptor = schema.AssembleDescriptorSet

	RegisterSubscriber = runtimepkg.RegisterSubscriber
	RegisterQueryable  = runtimepkg.RegisterQueryable
	NewEnvelopeMessage = runtimepkg.NewEnvelopeMessage

	PublishWithSourceTimestamp = runtimepkg.WithSourceTimestamp
	PublishWithSourceTime      = runtimepkg.WithSourceTime
	PublishWithEnclosedAt      = runtimepkg.WithEnclosedAt
	WithMetadata               = runtimepkg.WithMetadata
	WithCorrelationID          = runtimepkg.WithCorrelationID

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	HooksMiddleware = runtimepkg.HooksMiddleware
	LoggingHooks    = runtimepkg.LoggingHooks
	MetricsHooks    = runtimepkg.MetricsHooks

	GetCapabilities          = transport.GetCapabilities
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrInvalidField         = errspkg.ErrInvalidField
	ErrTopicFormat          = errspkg.ErrTopicFormat
	ErrMalformedEnvelope    = errspkg.ErrMalformedEnvelope
	ErrUnknownTag           = errspkg.ErrUnknownTag
	ErrUnknownSchema        = errspkg.ErrUnknownSchema
	ErrDecode               = errspkg.ErrDecode
	ErrConfigLoad           = errspkg.ErrConfigLoad
	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrHandlerNameTaken     = errspkg.ErrHandlerNameTaken
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrSubscriberRequired   = errspkg.ErrSubscriberRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrTagSchemaMismatch    = errspkg.ErrTagSchemaMismatch
	ErrKeyExprUnsupported   = errspkg.ErrKeyExprUnsupported
	ErrMessageTypeRequired  = errspkg.ErrMessageTypeRequired
	ErrMessagePointerNeeded = errspkg.ErrMessagePointerNeeded
	ErrQuery                = errspkg.ErrQuery

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewTextServiceLogger = loggingpkg.NewTextServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys set on every keelson message.
const (
	MetadataKeyTopic         = metadatapkg.KeyTopic
	MetadataKeyTag           = metadatapkg.KeyTag
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyError         = metadatapkg.KeyError
)

const (
	Delimiter      = topic.Delimiter
	SingleWildcard = topic.SingleWildcard
	MultiWildcard  = topic.MultiWildcard
	ReplyTag       = runtimepkg.ReplyTag

	EncodingProtobuf = tags.EncodingProtobuf
	EncodingJSON     = tags.EncodingJSON
)

func RegisterProtoSubscriber[T proto.Message](svc *Service, cfg ProtoSubscriberRegistration[T]) error {
	return runtimepkg.RegisterProtoSubscriber(svc, cfg)
}

func RegisterJSONSubscriber[T any](svc *Service, cfg JSONSubscriberRegistration[T]) error {
	return runtimepkg.RegisterJSONSubscriber(svc, cfg)
}

func RegisterProtoQueryable[Req, Resp proto.Message](svc *Service, cfg ProtoQueryableRegistration[Req, Resp]) error {
	return runtimepkg.RegisterProtoQueryable(svc, cfg)
}

func QueryProto[Resp proto.Message](ctx context.Context, svc *Service, entityID, procedure string, req proto.Message, opts ...PublishOption) (Resp, error) {
	return runtimepkg.QueryProto[Resp](ctx, svc, entityID, procedure, req, opts...)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}

// GetProtobufFileDescriptorSet returns the dependency ordered descriptor set
// of typeName from the bundled schemas.
func GetProtobufFileDescriptorSet(typeName string) ([]byte, error) {
	pool, err := schema.Default()
	if err != nil {
		return nil, err
	}
	set, err := pool.DescriptorSet(typeName)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(set)
}
