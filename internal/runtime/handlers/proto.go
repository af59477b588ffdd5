package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

// ProtoSample is a sample whose payload was unmarshalled into T.
type ProtoSample[T proto.Message] struct {
	SampleContext
	Payload T
}

// ProtoSampleHandler processes a typed protobuf sample.
type ProtoSampleHandler[T proto.Message] func(ctx context.Context, sample ProtoSample[T]) error

// ProtoSubscriberRegistration subscribes a typed protobuf handler. Name
// defaults to the message type.
type ProtoSubscriberRegistration[T proto.Message] struct {
	Name    string
	Topic   string
	Handler ProtoSampleHandler[T]
}

// BuildProtoAdapter unmarshals the binary payload into a fresh T per sample.
func BuildProtoAdapter[T proto.Message](prototype T, handler ProtoSampleHandler[T]) (Adapter, error) {
	if handler == nil {
		return Adapter{}, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return Adapter{}, errspkg.ErrMessageTypeRequired
	}
	return Adapter{
		Decode: func(_ string, data []byte) (any, error) {
			return UnmarshalProto(prototype, data)
		},
		Handle: func(ctx context.Context, sample SampleContext, value any) error {
			return handler(ctx, ProtoSample[T]{SampleContext: sample, Payload: value.(T)})
		},
	}, nil
}

// ProtoRequest is a query whose payload was unmarshalled into T.
type ProtoRequest[T proto.Message] struct {
	RequestContext
	Payload T
}

// ProtoQueryHandler answers a typed protobuf query.
type ProtoQueryHandler[Req, Resp proto.Message] func(ctx context.Context, req ProtoRequest[Req]) (Resp, error)

// ProtoQueryableRegistration declares a typed protobuf queryable on the
// service's own entity.
type ProtoQueryableRegistration[Req, Resp proto.Message] struct {
	Name      string
	Procedure string
	Handler   ProtoQueryHandler[Req, Resp]
}

// BuildProtoQueryAdapter unmarshals requests into Req and marshals the
// returned Resp. A nil response yields an empty reply payload.
func BuildProtoQueryAdapter[Req, Resp proto.Message](prototype Req, handler ProtoQueryHandler[Req, Resp]) (QueryAdapter, error) {
	if handler == nil {
		return QueryAdapter{}, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return QueryAdapter{}, errspkg.ErrMessageTypeRequired
	}
	return QueryAdapter{
		Decode: func(data []byte) (any, error) {
			return UnmarshalProto(prototype, data)
		},
		Handle: func(ctx context.Context, req RequestContext, value any) ([]byte, error) {
			resp, err := handler(ctx, ProtoRequest[Req]{RequestContext: req, Payload: value.(Req)})
			if err != nil {
				return nil, err
			}
			if isNilProto(resp) {
				return nil, nil
			}
			return proto.Marshal(resp)
		},
	}, nil
}

// UnmarshalProto decodes data into a fresh copy of prototype.
func UnmarshalProto[T proto.Message](prototype T, data []byte) (T, error) {
	typed, err := clonePrototype(prototype)
	if err != nil {
		return typed, err
	}
	if err := proto.Unmarshal(data, typed); err != nil {
		var zero T
		return zero, &errspkg.DecodeError{TypeName: string(typed.ProtoReflect().Descriptor().FullName()), Err: err}
	}
	return typed, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrMessageTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a new zero message of its type
// when candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrMessagePointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
