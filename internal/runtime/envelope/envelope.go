// Package envelope wraps opaque payload bytes with nanosecond timing metadata.
//
// The binary form is the protobuf encoding of keelson.Envelope:
//
//	message Envelope {
//	  google.protobuf.Timestamp enclosed_at      = 1;
//	  bytes                     payload          = 2;
//	  google.protobuf.Timestamp source_timestamp = 3;
//	}
//
// Unknown fields are skipped when decoding so producers may add fields without
// breaking older consumers. The receive time is never encoded; Uncover reads it
// from the clock.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

const (
	fieldEnclosedAt      protowire.Number = 1
	fieldPayload         protowire.Number = 2
	fieldSourceTimestamp protowire.Number = 3

	fieldTimestampSeconds protowire.Number = 1
	fieldTimestampNanos   protowire.Number = 2

	nanosPerSecond = int64(time.Second)
)

var now = time.Now

// Envelope is the decoded wire value. It is never mutated after construction.
type Envelope struct {
	// EnclosedAt is nanoseconds since the Unix epoch at wrap time.
	EnclosedAt int64
	// SourceTimestamp is nanoseconds since the Unix epoch at which the payload
	// was produced. Only meaningful when HasSourceTimestamp is true.
	SourceTimestamp    int64
	HasSourceTimestamp bool
	Payload            []byte
}

// Uncovered is an envelope together with the moment it was unwrapped.
type Uncovered struct {
	Envelope
	ReceivedAt int64
}

// Latency is the time between enclosing and uncovering.
func (u Uncovered) Latency() time.Duration {
	return time.Duration(u.ReceivedAt - u.EnclosedAt)
}

// Option customises Enclose.
type Option func(*Envelope)

// WithEnclosedAt overrides the enclose time, which defaults to now.
func WithEnclosedAt(ns int64) Option {
	return func(e *Envelope) {
		e.EnclosedAt = ns
	}
}

// WithSourceTimestamp records when the payload was originally produced.
func WithSourceTimestamp(ns int64) Option {
	return func(e *Envelope) {
		e.SourceTimestamp = ns
		e.HasSourceTimestamp = true
	}
}

// New builds an Envelope around payload, stamping it with the current time
// unless WithEnclosedAt is supplied.
func New(payload []byte, opts ...Option) Envelope {
	env := Envelope{
		EnclosedAt: now().UnixNano(),
		Payload:    payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env
}

// Enclose wraps payload and returns the binary envelope.
func Enclose(payload []byte, opts ...Option) []byte {
	return New(payload, opts...).Marshal()
}

// Uncover decodes an envelope and stamps it with the current time.
func Uncover(message []byte) (Uncovered, error) {
	env, err := Unmarshal(message)
	if err != nil {
		return Uncovered{}, err
	}
	return Uncovered{Envelope: env, ReceivedAt: now().UnixNano()}, nil
}

// Marshal returns the canonical binary encoding of e.
func (e Envelope) Marshal() []byte {
	size := 2*(protowire.SizeTag(1)+protowire.SizeBytes(22)) + protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(e.Payload))
	b := make([]byte, 0, size)

	b = appendTimestamp(b, fieldEnclosedAt, e.EnclosedAt)
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	if e.HasSourceTimestamp {
		b = appendTimestamp(b, fieldSourceTimestamp, e.SourceTimestamp)
	}
	return b
}

// Unmarshal decodes the binary form produced by Marshal. Repeated timestamp
// fields are merged the way protobuf merges embedded messages: a later
// occurrence only overrides the subfields it carries.
func Unmarshal(b []byte) (Envelope, error) {
	var (
		env           Envelope
		enclosed      *timestamppb.Timestamp
		source        *timestamppb.Timestamp
		originalBytes = len(b)
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, malformed(originalBytes-len(b), protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldEnclosedAt, fieldSourceTimestamp, fieldPayload:
			if typ != protowire.BytesType {
				return Envelope{}, malformed(originalBytes-len(b), fmt.Errorf("field %d has wire type %d", num, typ))
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(originalBytes-len(b), protowire.ParseError(n))
			}
			b = b[n:]

			switch num {
			case fieldPayload:
				env.Payload = append([]byte(nil), v...)
			case fieldEnclosedAt:
				if enclosed == nil {
					enclosed = &timestamppb.Timestamp{}
				}
				if err := mergeTimestamp(enclosed, v); err != nil {
					return Envelope{}, &errspkg.MalformedEnvelopeError{Err: fmt.Errorf("enclosed_at: %w", err)}
				}
			case fieldSourceTimestamp:
				if source == nil {
					source = &timestamppb.Timestamp{}
				}
				if err := mergeTimestamp(source, v); err != nil {
					return Envelope{}, &errspkg.MalformedEnvelopeError{Err: fmt.Errorf("source_timestamp: %w", err)}
				}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, malformed(originalBytes-len(b), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if enclosed == nil {
		return Envelope{}, &errspkg.MalformedEnvelopeError{Err: errors.New("enclosed_at is missing")}
	}
	ns, err := timestampNanos(enclosed)
	if err != nil {
		return Envelope{}, &errspkg.MalformedEnvelopeError{Err: fmt.Errorf("enclosed_at: %w", err)}
	}
	env.EnclosedAt = ns
	if source != nil {
		ns, err := timestampNanos(source)
		if err != nil {
			return Envelope{}, &errspkg.MalformedEnvelopeError{Err: fmt.Errorf("source_timestamp: %w", err)}
		}
		env.SourceTimestamp = ns
		env.HasSourceTimestamp = true
	}
	return env, nil
}

func malformed(offset int, err error) error {
	return &errspkg.MalformedEnvelopeError{Err: fmt.Errorf("offset %d: %w", offset, err)}
}

func appendTimestamp(b []byte, num protowire.Number, ns int64) []byte {
	sec, nsec := splitNanos(ns)

	var ts []byte
	if sec != 0 {
		ts = protowire.AppendTag(ts, fieldTimestampSeconds, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(sec))
	}
	if nsec != 0 {
		ts = protowire.AppendTag(ts, fieldTimestampNanos, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(nsec))
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

// mergeTimestamp decodes b into ts, keeping subfields b does not carry.
func mergeTimestamp(ts *timestamppb.Timestamp, b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if (num == fieldTimestampSeconds || num == fieldTimestampNanos) && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldTimestampSeconds {
				ts.Seconds = int64(v)
			} else {
				ts.Nanos = int32(v)
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func timestampNanos(ts *timestamppb.Timestamp) (int64, error) {
	if err := ts.CheckValid(); err != nil {
		return 0, err
	}
	ns, ok := joinNanos(ts.Seconds, ts.Nanos)
	if !ok {
		return 0, fmt.Errorf("timestamp %ds %dns overflows int64 nanoseconds", ts.Seconds, ts.Nanos)
	}
	return ns, nil
}

// splitNanos converts nanoseconds into a Timestamp pair with 0 <= nsec < 1e9.
func splitNanos(ns int64) (int64, int32) {
	sec := ns / nanosPerSecond
	nsec := ns % nanosPerSecond
	if nsec < 0 {
		sec--
		nsec += nanosPerSecond
	}
	return sec, int32(nsec)
}

// joinNanos is the inverse of splitNanos, reporting false when the value does
// not fit into int64 nanoseconds.
func joinNanos(sec int64, nsec int32) (int64, bool) {
	const maxSec = math.MaxInt64 / nanosPerSecond

	if sec > maxSec || sec < -maxSec-1 {
		return 0, false
	}
	n := int64(nsec)
	if sec < 0 && n > 0 {
		sec++
		n -= nanosPerSecond
	}
	if sec < -maxSec {
		return 0, false
	}

	base := sec * nanosPerSecond
	if n > 0 && base > math.MaxInt64-n {
		return 0, false
	}
	if n < 0 && base < math.MinInt64-n {
		return 0, false
	}
	return base + n, true
}
