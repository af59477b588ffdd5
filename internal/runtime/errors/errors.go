package errors

import (
	sterrors "errors"
	"fmt"
)

// Core sentinels. Every typed error below reports errors.Is against exactly one
// of these so callers can branch without type assertions.
var (
	ErrInvalidField      = sterrors.New("keelson: invalid topic field")
	ErrTopicFormat       = sterrors.New("keelson: topic does not match expected format")
	ErrMalformedEnvelope = sterrors.New("keelson: malformed envelope")
	ErrUnknownTag        = sterrors.New("keelson: unknown tag")
	ErrUnknownSchema     = sterrors.New("keelson: unknown schema")
	ErrDecode            = sterrors.New("keelson: payload does not match schema")
	ErrConfigLoad        = sterrors.New("keelson: configuration load failed")
)

// Service sentinels.
var (
	ErrServiceRequired     = sterrors.New("keelson: service is required")
	ErrHandlerRequired     = sterrors.New("keelson: handler function is required")
	ErrHandlerNameRequired = sterrors.New("keelson: handler name is required")
	ErrTopicRequired       = sterrors.New("keelson: topic is required")
	ErrPublisherRequired   = sterrors.New("keelson: publisher is required")
	ErrSubscriberRequired  = sterrors.New("keelson: subscriber is required")
	ErrConfigRequired      = sterrors.New("keelson: configuration is required")
	ErrLoggerRequired      = sterrors.New("keelson: logger is required")
	ErrTagSchemaMismatch   = sterrors.New("keelson: payload does not match the tag's registered schema")
	ErrQuery               = sterrors.New("keelson: query failed")
	ErrHandlerNameTaken    = sterrors.New("keelson: handler name already registered")
	ErrKeyExprUnsupported  = sterrors.New("keelson: transport cannot subscribe to key expressions")

	ErrMessageTypeRequired  = sterrors.New("keelson: message type is required")
	ErrMessagePointerNeeded = sterrors.New("keelson: message type must be a pointer")
)

// InvalidFieldError reports a topic field that cannot be placed in a topic.
type InvalidFieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("keelson: invalid topic field %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidFieldError) Is(target error) bool { return target == ErrInvalidField }

// TopicFormatError reports a topic that does not match the expected grammar.
type TopicFormatError struct {
	Topic  string
	Format string
}

func (e *TopicFormatError) Error() string {
	return fmt.Sprintf("keelson: topic %q did not have the expected format %s", e.Topic, e.Format)
}

func (e *TopicFormatError) Is(target error) bool { return target == ErrTopicFormat }

// MalformedEnvelopeError reports bytes that are not a valid envelope encoding.
type MalformedEnvelopeError struct {
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err == nil {
		return ErrMalformedEnvelope.Error()
	}
	return fmt.Sprintf("%s: %v", ErrMalformedEnvelope, e.Err)
}

func (e *MalformedEnvelopeError) Is(target error) bool { return target == ErrMalformedEnvelope }
func (e *MalformedEnvelopeError) Unwrap() error        { return e.Err }

// UnknownTagError reports a tag that is absent from the registry.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownTag, e.Tag)
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// UnknownSchemaError reports a type name that is absent from the schema pool.
type UnknownSchemaError struct {
	TypeName string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownSchema, e.TypeName)
}

func (e *UnknownSchemaError) Is(target error) bool { return target == ErrUnknownSchema }

// DecodeError reports payload bytes that do not conform to the resolved schema.
type DecodeError struct {
	TypeName string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", ErrDecode, e.TypeName)
	}
	return fmt.Sprintf("%s %s: %v", ErrDecode, e.TypeName, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
func (e *DecodeError) Unwrap() error        { return e.Err }

// ConfigLoadError reports a startup resource that is missing or malformed.
// It is fatal: a service that sees one never reaches a ready state.
type ConfigLoadError struct {
	Resource string
	Err      error
}

func (e *ConfigLoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrConfigLoad, e.Resource)
	}
	return fmt.Sprintf("%s: %s: %v", ErrConfigLoad, e.Resource, e.Err)
}

func (e *ConfigLoadError) Is(target error) bool { return target == ErrConfigLoad }
func (e *ConfigLoadError) Unwrap() error        { return e.Err }

// NewConfigLoadError wraps err for the named resource, returning nil for a nil error.
func NewConfigLoadError(resource string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigLoadError{Resource: resource, Err: err}
}

// QueryError carries a failure reported by the remote queryable.
type QueryError struct {
	Procedure string
	Message   string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrQuery, e.Procedure, e.Message)
}

func (e *QueryError) Is(target error) bool { return target == ErrQuery }
