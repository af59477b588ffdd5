// Package schema resolves fully qualified protobuf type names against a pool
// of message descriptors built once from a descriptor-set bundle.
package schema

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	// Linked in so bundles may import the well-known types without shipping them.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

// Pool is an immutable table of message types keyed by full name. It is safe
// for concurrent use.
type Pool struct {
	files *protoregistry.Files
	types map[protoreflect.FullName]protoreflect.MessageType
	names []string
}

// NewPool compiles set into a pool. Imports that set does not carry are
// completed from the well-known types linked into the binary.
func NewPool(set *descriptorpb.FileDescriptorSet) (*Pool, error) {
	return newPool("descriptor set", set)
}

func newPool(resource string, set *descriptorpb.FileDescriptorSet) (*Pool, error) {
	if set == nil {
		return nil, errspkg.NewConfigLoadError(resource, fmt.Errorf("descriptor set is nil"))
	}

	completed, err := completeImports(set)
	if err != nil {
		return nil, errspkg.NewConfigLoadError(resource, err)
	}

	files, err := protodesc.NewFiles(completed)
	if err != nil {
		return nil, errspkg.NewConfigLoadError(resource, err)
	}

	p := &Pool{
		files: files,
		types: make(map[protoreflect.FullName]protoreflect.MessageType),
	}
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		p.register(fd.Messages())
		return true
	})
	slices.Sort(p.names)
	return p, nil
}

func (p *Pool) register(messages protoreflect.MessageDescriptors) {
	for i := 0; i < messages.Len(); i++ {
		md := messages.Get(i)
		if md.IsMapEntry() {
			continue
		}
		p.types[md.FullName()] = dynamicpb.NewMessageType(md)
		p.names = append(p.names, string(md.FullName()))
		p.register(md.Messages())
	}
}

// completeImports returns set extended with every transitively imported file
// that set does not define itself, taken from protoregistry.GlobalFiles.
func completeImports(set *descriptorpb.FileDescriptorSet) (*descriptorpb.FileDescriptorSet, error) {
	defined := make(map[string]bool, len(set.GetFile()))
	for _, f := range set.GetFile() {
		if defined[f.GetName()] {
			return nil, fmt.Errorf("file %q is defined more than once", f.GetName())
		}
		defined[f.GetName()] = true
	}

	out := &descriptorpb.FileDescriptorSet{File: slices.Clone(set.GetFile())}
	pending := make([]string, 0)
	for _, f := range set.GetFile() {
		pending = append(pending, f.GetDependency()...)
	}

	for len(pending) > 0 {
		path := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if defined[path] {
			continue
		}

		fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
		if err != nil {
			return nil, fmt.Errorf("import %q is neither bundled nor linked in: %w", path, err)
		}
		defined[path] = true
		out.File = append(out.File, protodesc.ToFileDescriptorProto(fd))

		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			pending = append(pending, imports.Get(i).Path())
		}
	}
	return out, nil
}

// MessageDescriptor resolves typeName to its descriptor.
func (p *Pool) MessageDescriptor(typeName string) (protoreflect.MessageDescriptor, error) {
	mt, err := p.MessageType(typeName)
	if err != nil {
		return nil, err
	}
	return mt.Descriptor(), nil
}

// MessageType resolves typeName to a type that can allocate new messages.
func (p *Pool) MessageType(typeName string) (protoreflect.MessageType, error) {
	mt, ok := p.types[protoreflect.FullName(typeName)]
	if !ok {
		return nil, &errspkg.UnknownSchemaError{TypeName: typeName}
	}
	return mt, nil
}

// Has reports whether typeName is part of the pool.
func (p *Pool) Has(typeName string) bool {
	_, ok := p.types[protoreflect.FullName(typeName)]
	return ok
}

// Decode parses payload as a message of typeName.
func (p *Pool) Decode(payload []byte, typeName string) (proto.Message, error) {
	mt, err := p.MessageType(typeName)
	if err != nil {
		return nil, err
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, &errspkg.DecodeError{TypeName: typeName, Err: err}
	}
	return msg, nil
}

// DescriptorSet returns the self-contained, dependency-ordered descriptor set
// for the file that defines typeName.
func (p *Pool) DescriptorSet(typeName string) (*descriptorpb.FileDescriptorSet, error) {
	md, err := p.MessageDescriptor(typeName)
	if err != nil {
		return nil, err
	}
	return AssembleDescriptorSet(md.ParentFile()), nil
}

// TypeNames lists every message type in the pool in lexical order.
func (p *Pool) TypeNames() []string {
	return slices.Clone(p.names)
}

// Files exposes the compiled file registry, for example as a protojson
// resolver.
func (p *Pool) Files() *protoregistry.Files {
	return p.files
}
