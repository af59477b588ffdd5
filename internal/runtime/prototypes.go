package runtime

import (
	"google.golang.org/protobuf/proto"

	handlerpkg "github.com/drblury/keelson/internal/runtime/handlers"
)

// NewProtoMessage returns a new zero message of type T.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage is NewProtoMessage that panics on error.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
