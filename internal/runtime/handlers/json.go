package handlers

import (
	"context"
	"reflect"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	"github.com/drblury/keelson/internal/runtime/tags"
)

// JSONSample is a sample whose JSON payload was unmarshalled into T.
type JSONSample[T any] struct {
	SampleContext
	Payload T
}

// JSONSampleHandler processes a typed JSON sample.
type JSONSampleHandler[T any] func(ctx context.Context, sample JSONSample[T]) error

// JSONSubscriberRegistration subscribes a typed JSON handler. T must be a pointer type.
type JSONSubscriberRegistration[T any] struct {
	Name    string
	Topic   string
	Handler JSONSampleHandler[T]
}

// BuildJSONAdapter unmarshals the payload into a fresh T per sample.
func BuildJSONAdapter[T any](handler JSONSampleHandler[T]) (Adapter, error) {
	if handler == nil {
		return Adapter{}, errspkg.ErrHandlerRequired
	}

	newValue, err := jsonPrototypeFactory[T]()
	if err != nil {
		return Adapter{}, err
	}

	return Adapter{
		Decode: func(_ string, data []byte) (any, error) {
			typed := newValue()
			if err := jsoncodec.Unmarshal(data, typed); err != nil {
				return nil, &errspkg.DecodeError{TypeName: tags.EncodingJSON, Err: err}
			}
			return typed, nil
		},
		Handle: func(ctx context.Context, sample SampleContext, value any) error {
			return handler(ctx, JSONSample[T]{SampleContext: sample, Payload: value.(T)})
		},
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}
