// Package payload turns the opaque bytes carried by an envelope into a value,
// using the tag registry to choose the encoding and the schema pool to decode
// protobuf messages.
package payload

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	"github.com/drblury/keelson/internal/runtime/schema"
	"github.com/drblury/keelson/internal/runtime/tags"
)

// Value is a decoded payload. Exactly one of Message and Document is set,
// depending on Encoding.
type Value struct {
	Tag      string
	Encoding string
	TypeName string
	Message  proto.Message
	Document any
}

// JSON renders the value for humans and logs.
func (v Value) JSON() ([]byte, error) {
	if v.Message != nil {
		return protojson.MarshalOptions{UseProtoNames: true}.Marshal(v.Message)
	}
	return jsoncodec.Marshal(v.Document)
}

// Decoder resolves tags to encodings and decodes payloads accordingly.
type Decoder struct {
	tags *tags.Registry
	pool *schema.Pool
}

// NewDecoder binds a tag registry and schema pool.
func NewDecoder(registry *tags.Registry, pool *schema.Pool) *Decoder {
	return &Decoder{tags: registry, pool: pool}
}

// Registry returns the tag registry the decoder consults.
func (d *Decoder) Registry() *tags.Registry { return d.tags }

// Pool returns the schema pool the decoder consults.
func (d *Decoder) Pool() *schema.Pool { return d.pool }

// Decode interprets data according to the registry entry for tag.
func (d *Decoder) Decode(tag string, data []byte) (Value, error) {
	entry, err := d.tags.Lookup(tag)
	if err != nil {
		return Value{}, err
	}

	switch entry.Encoding {
	case tags.EncodingProtobuf:
		msg, err := d.pool.Decode(data, entry.Description)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: tag, Encoding: entry.Encoding, TypeName: entry.Description, Message: msg}, nil
	case tags.EncodingJSON:
		var doc any
		if err := jsoncodec.Unmarshal(data, &doc); err != nil {
			return Value{}, &errspkg.DecodeError{TypeName: tags.EncodingJSON, Err: err}
		}
		return Value{Tag: tag, Encoding: entry.Encoding, Document: doc}, nil
	default:
		return Value{}, fmt.Errorf("tag %q: unsupported encoding %q", tag, entry.Encoding)
	}
}

// CheckProto verifies that msg may be published under tag: a well-known
// protobuf tag requires a message of its registered type. Unknown tags are
// accepted as-is.
func (d *Decoder) CheckProto(tag string, msg proto.Message) error {
	if !d.tags.IsWellKnown(tag) {
		return nil
	}
	entry, _ := d.tags.Lookup(tag)
	got := string(msg.ProtoReflect().Descriptor().FullName())
	if entry.Encoding != tags.EncodingProtobuf || entry.Description != got {
		return fmt.Errorf("%w: tag %q expects %s %s, got protobuf %s",
			errspkg.ErrTagSchemaMismatch, tag, entry.Encoding, entry.Description, got)
	}
	return nil
}

// CheckJSON verifies that a JSON document may be published under tag.
func (d *Decoder) CheckJSON(tag string) error {
	if !d.tags.IsWellKnown(tag) {
		return nil
	}
	entry, _ := d.tags.Lookup(tag)
	if entry.Encoding != tags.EncodingJSON {
		return fmt.Errorf("%w: tag %q expects %s %s, got json",
			errspkg.ErrTagSchemaMismatch, tag, entry.Encoding, entry.Description)
	}
	return nil
}
