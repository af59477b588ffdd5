// Package tags holds the registry of well-known payload tags. Each tag maps to
// the encoding of its payload and a description, which for protobuf tags is the
// fully qualified message type.
package tags

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/internal/runtime/topic"
)

const (
	EncodingProtobuf = "protobuf"
	EncodingJSON     = "json"

	embeddedResource = "tags.yaml"
)

//go:embed tags.yaml
var embedded []byte

// Entry describes a single well-known tag.
type Entry struct {
	Encoding    string `yaml:"encoding" json:"encoding" validate:"required,oneof=protobuf json"`
	Description string `yaml:"description" json:"description" validate:"required"`
}

// Registry is a read-only tag table. It is safe for concurrent use.
type Registry struct {
	entries map[string]Entry
	names   []string
}

var validate = validator.New()

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return parse(embeddedResource, bytes.NewReader(embedded))
})

// Default returns the registry built from the bundled tags.yaml. It is loaded
// once per process.
func Default() (*Registry, error) {
	return defaultRegistry()
}

// Parse builds a registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	return parse("tags", bytes.NewReader(data))
}

// Load builds a registry from a YAML stream.
func Load(r io.Reader) (*Registry, error) {
	return parse("tags", r)
}

// LoadFile builds a registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errspkg.NewConfigLoadError(path, err)
	}
	defer f.Close()
	return parse(path, f)
}

// New builds a registry from already decoded entries. The same validation as
// for YAML resources applies.
func New(entries map[string]Entry) (*Registry, error) {
	return build("tags", entries)
}

func parse(resource string, r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var entries map[string]Entry
	if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, errspkg.NewConfigLoadError(resource, err)
	}
	return build(resource, entries)
}

func build(resource string, entries map[string]Entry) (*Registry, error) {
	reg := &Registry{
		entries: make(map[string]Entry, len(entries)),
		names:   make([]string, 0, len(entries)),
	}

	var errs []error
	for name, entry := range entries {
		if err := validateName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := validate.Struct(entry); err != nil {
			errs = append(errs, fmt.Errorf("tag %q: %w", name, err))
			continue
		}
		reg.entries[name] = entry
		reg.names = append(reg.names, name)
	}
	if len(errs) > 0 {
		return nil, errspkg.NewConfigLoadError(resource, errors.Join(errs...))
	}

	slices.Sort(reg.names)
	return reg, nil
}

func validateName(name string) error {
	if err := topic.ValidateSegment("tag", name); err != nil {
		return fmt.Errorf("tag %q: %w", name, err)
	}
	if name != strings.ToLower(name) {
		return fmt.Errorf("tag %q: must be lowercase", name)
	}
	if name == topic.RPCSegment {
		return fmt.Errorf("tag %q: reserved for request/reply topics", name)
	}
	return nil
}

// IsWellKnown reports whether tag is registered. The match is exact.
func (r *Registry) IsWellKnown(tag string) bool {
	_, ok := r.entries[tag]
	return ok
}

// Lookup returns the entry registered for tag.
func (r *Registry) Lookup(tag string) (Entry, error) {
	entry, ok := r.entries[tag]
	if !ok {
		return Entry{}, &errspkg.UnknownTagError{Tag: tag}
	}
	return entry, nil
}

// Encoding returns the payload encoding registered for tag.
func (r *Registry) Encoding(tag string) (string, error) {
	entry, err := r.Lookup(tag)
	if err != nil {
		return "", err
	}
	return entry.Encoding, nil
}

// Description returns the description registered for tag.
func (r *Registry) Description(tag string) (string, error) {
	entry, err := r.Lookup(tag)
	if err != nil {
		return "", err
	}
	return entry.Description, nil
}

// Tags returns the registered tag names in lexical order.
func (r *Registry) Tags() []string {
	return slices.Clone(r.names)
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	return len(r.entries)
}
