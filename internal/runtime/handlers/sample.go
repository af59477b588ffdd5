package handlers

import (
	"context"
	"errors"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/internal/runtime/payload"
)

// Adapter is the untyped form of a subscriber. The service drops samples whose
// Decode fails and returns Handle failures to the router.
type Adapter struct {
	Decode func(tag string, data []byte) (any, error)
	Handle func(ctx context.Context, sample SampleContext, value any) error
}

// Sample is a received sample with its raw payload and, for well-known tags,
// the decoded value.
type Sample struct {
	SampleContext
	Payload []byte
	Value   payload.Value
}

// Decoded reports whether the tag was well known and the payload was decoded.
func (s Sample) Decoded() bool { return s.Value.Encoding != "" }

// SampleHandler processes one raw sample.
type SampleHandler func(ctx context.Context, sample Sample) error

// SubscriberRegistration subscribes a raw handler to a topic or key expression.
type SubscriberRegistration struct {
	Name    string
	Topic   string
	Handler SampleHandler
}

type rawValue struct {
	data  []byte
	value payload.Value
}

// BuildSampleAdapter decodes payloads through the tag registry. Samples with
// unknown tags are delivered undecoded; well-known tags that fail to decode
// are rejected.
func BuildSampleAdapter(decoder *payload.Decoder, handler SampleHandler) (Adapter, error) {
	if handler == nil {
		return Adapter{}, errspkg.ErrHandlerRequired
	}
	return Adapter{
		Decode: func(tag string, data []byte) (any, error) {
			if decoder == nil {
				return rawValue{data: data}, nil
			}
			value, err := decoder.Decode(tag, data)
			if errors.Is(err, errspkg.ErrUnknownTag) {
				return rawValue{data: data}, nil
			}
			if err != nil {
				return nil, err
			}
			return rawValue{data: data, value: value}, nil
		},
		Handle: func(ctx context.Context, sample SampleContext, value any) error {
			raw := value.(rawValue)
			return handler(ctx, Sample{SampleContext: sample, Payload: raw.data, Value: raw.value})
		},
	}, nil
}
