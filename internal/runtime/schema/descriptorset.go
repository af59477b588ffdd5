package schema

import (
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

type frame struct {
	file protoreflect.FileDescriptor
	next int
}

// AssembleDescriptorSet flattens root and its transitive imports into a
// descriptor set in which every file appears once and after all of its
// dependencies. The walk uses an explicit stack so deep import graphs cannot
// exhaust the goroutine stack.
func AssembleDescriptorSet(root protoreflect.FileDescriptor) *descriptorpb.FileDescriptorSet {
	set := &descriptorpb.FileDescriptorSet{}
	if root == nil {
		return set
	}

	seen := map[string]bool{root.Path(): true}
	stack := []*frame{{file: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		imports := top.file.Imports()

		if top.next < imports.Len() {
			dep := imports.Get(top.next).FileDescriptor
			top.next++
			if seen[dep.Path()] {
				continue
			}
			seen[dep.Path()] = true
			stack = append(stack, &frame{file: dep})
			continue
		}

		stack = stack[:len(stack)-1]
		set.File = append(set.File, protodesc.ToFileDescriptorProto(top.file))
	}
	return set
}
