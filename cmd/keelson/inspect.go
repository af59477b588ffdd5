package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	"github.com/drblury/keelson/internal/runtime/schema"
	"github.com/drblury/keelson/internal/runtime/tags"
	"github.com/drblury/keelson/internal/runtime/topic"
)

type tagRow struct {
	Tag         string `json:"tag"`
	Encoding    string `json:"encoding"`
	Description string `json:"description"`
}

func runTags(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "tags", "[-json] [-file tags.yaml]")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	file := fs.String("file", "", "Tag registry to read instead of the bundled one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := loadRegistry(*file)
	if err != nil {
		return err
	}

	rows := make([]tagRow, 0, reg.Len())
	for _, name := range reg.Tags() {
		entry, _ := reg.Lookup(name)
		rows = append(rows, tagRow{Tag: name, Encoding: entry.Encoding, Description: entry.Description})
	}

	if *asJSON {
		return writeJSON(env, rows)
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TAG\tENCODING\tDESCRIPTION")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Tag, r.Encoding, r.Description)
	}
	return tw.Flush()
}

func loadRegistry(path string) (*tags.Registry, error) {
	if path == "" {
		return tags.Default()
	}
	return tags.LoadFile(path)
}

func loadPool(path string) (*schema.Pool, error) {
	if path == "" {
		return schema.Default()
	}
	return schema.LoadBundleFile(path)
}

func runDescriptorSet(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "descriptor-set", "-type <full.type.Name> [-json] [-o file] [-bundle file]")
	typeName := fs.String("type", "", "Fully qualified message type")
	asJSON := fs.Bool("json", false, "Write protojson instead of binary")
	out := fs.String("o", "", "Output file (default stdout)")
	bundle := fs.String("bundle", "", "Descriptor bundle to read instead of the bundled one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *typeName == "" {
		fs.Usage()
		return errors.New("-type is required")
	}

	pool, err := loadPool(*bundle)
	if err != nil {
		return err
	}
	set, err := pool.DescriptorSet(*typeName)
	if err != nil {
		return err
	}

	var data []byte
	if *asJSON {
		data, err = protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(set)
	} else {
		data, err = proto.Marshal(set)
	}
	if err != nil {
		return fmt.Errorf("marshal descriptor set: %w", err)
	}

	if *out == "" {
		_, err = env.stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

type parsedTopic struct {
	Kind      string `json:"kind"`
	Realm     string `json:"realm"`
	EntityID  string `json:"entity_id"`
	Tag       string `json:"tag,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Procedure string `json:"procedure,omitempty"`
}

func runTopic(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "topic", "<topic>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one topic is required")
	}
	name := fs.Arg(0)

	if rr, err := topic.ParseReqRepTopic(name); err == nil {
		return writeJSON(env, parsedTopic{
			Kind:      "request_reply",
			Realm:     rr.Realm,
			EntityID:  rr.EntityID,
			Procedure: rr.Procedure,
		})
	}
	ps, err := topic.ParsePubSubTopic(name)
	if err != nil {
		return err
	}
	return writeJSON(env, parsedTopic{
		Kind:     "publish_subscribe",
		Realm:    ps.Realm,
		EntityID: ps.EntityID,
		Tag:      ps.Tag,
		SourceID: ps.SourceID,
	})
}

func writeJSON(env *environment, v any) error {
	data, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.stdout, string(data))
	return err
}
