package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

// Bundle formats accepted by ParseBundle.
const (
	FormatBinary = "binary"
	FormatJSON   = "json"

	embeddedResource = "bundle.json"
)

//go:embed bundle.json
var embeddedBundle []byte

var defaultPool = sync.OnceValues(func() (*Pool, error) {
	return parseBundle(embeddedResource, embeddedBundle, FormatJSON)
})

// Default returns the pool compiled from the bundled schemas. It is built once
// per process.
func Default() (*Pool, error) {
	return defaultPool()
}

// DefaultBundle returns the raw bundled descriptor set in protojson form.
func DefaultBundle() []byte {
	return append([]byte(nil), embeddedBundle...)
}

// ParseBundle compiles a serialized FileDescriptorSet. format is FormatBinary
// (the output of protoc --descriptor_set_out) or FormatJSON.
func ParseBundle(data []byte, format string) (*Pool, error) {
	return parseBundle("descriptor bundle", data, format)
}

// LoadBundleFile compiles the descriptor set stored at path. Files ending in
// .json are read as protojson, anything else as binary.
func LoadBundleFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errspkg.NewConfigLoadError(path, err)
	}
	format := FormatBinary
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return parseBundle(path, data, format)
}

func parseBundle(resource string, data []byte, format string) (*Pool, error) {
	set := &descriptorpb.FileDescriptorSet{}

	var err error
	switch format {
	case FormatJSON:
		err = protojson.Unmarshal(data, set)
	case FormatBinary, "":
		err = proto.Unmarshal(data, set)
	default:
		err = fmt.Errorf("unsupported bundle format %q", format)
	}
	if err != nil {
		return nil, errspkg.NewConfigLoadError(resource, err)
	}
	return newPool(resource, set)
}
