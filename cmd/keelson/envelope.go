package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drblury/keelson/internal/runtime/envelope"
	"github.com/drblury/keelson/internal/runtime/payload"
)

func readInput(env *environment, args []string) ([]byte, error) {
	switch len(args) {
	case 0:
		return io.ReadAll(env.stdin)
	case 1:
		if args[0] == "-" {
			return io.ReadAll(env.stdin)
		}
		return os.ReadFile(args[0])
	default:
		return nil, errors.New("at most one input file is accepted")
	}
}

func runEnclose(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "enclose", "[-source-ts ns] [-enclosed-at ns] [file]")
	sourceTS := fs.Int64("source-ts", 0, "Source timestamp in nanoseconds since the epoch (0 omits it)")
	enclosedAt := fs.Int64("enclosed-at", 0, "Enclose time in nanoseconds since the epoch (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(env, fs.Args())
	if err != nil {
		return err
	}

	var opts []envelope.Option
	if *sourceTS != 0 {
		opts = append(opts, envelope.WithSourceTimestamp(*sourceTS))
	}
	if *enclosedAt != 0 {
		opts = append(opts, envelope.WithEnclosedAt(*enclosedAt))
	}
	_, err = env.stdout.Write(envelope.Enclose(data, opts...))
	return err
}

type uncoveredOutput struct {
	EnclosedAt      time.Time  `json:"enclosed_at"`
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	Latency         string     `json:"latency"`
	Tag             string     `json:"tag,omitempty"`
	TypeName        string     `json:"type_name,omitempty"`
	Payload         any        `json:"payload"`
}

func runUncover(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "uncover", "[-tag T] [-tags file] [-bundle file] [file]")
	tag := fs.String("tag", "", "Decode the payload as this tag (default prints base64)")
	tagsFile := fs.String("tags", "", "Tag registry to read instead of the bundled one")
	bundle := fs.String("bundle", "", "Descriptor bundle to read instead of the bundled one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(env, fs.Args())
	if err != nil {
		return err
	}
	uncovered, err := envelope.Uncover(data)
	if err != nil {
		return err
	}

	out := uncoveredOutput{
		EnclosedAt: time.Unix(0, uncovered.EnclosedAt).UTC(),
		ReceivedAt: time.Unix(0, uncovered.ReceivedAt).UTC(),
		Latency:    uncovered.Latency().String(),
		Payload:    base64.StdEncoding.EncodeToString(uncovered.Payload),
	}
	if uncovered.HasSourceTimestamp {
		ts := time.Unix(0, uncovered.SourceTimestamp).UTC()
		out.SourceTimestamp = &ts
	}

	if *tag != "" {
		value, err := decodePayload(*tagsFile, *bundle, *tag, uncovered.Payload)
		if err != nil {
			return err
		}
		out.Tag = value.Tag
		out.TypeName = value.TypeName
		doc, err := value.JSON()
		if err != nil {
			return fmt.Errorf("render payload: %w", err)
		}
		out.Payload = rawJSON(doc)
	}
	return writeJSON(env, out)
}

func decodePayload(tagsFile, bundle, tag string, data []byte) (payload.Value, error) {
	reg, err := loadRegistry(tagsFile)
	if err != nil {
		return payload.Value{}, err
	}
	pool, err := loadPool(bundle)
	if err != nil {
		return payload.Value{}, err
	}
	return payload.NewDecoder(reg, pool).Decode(tag, data)
}

// rawJSON embeds already encoded JSON in a larger document.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
