package schema

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/drblury/keelson/internal/runtime/envelope"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	"github.com/drblury/keelson/internal/runtime/tags"
)

func timestampedFloat(t *testing.T, ts *timestamppb.Timestamp, value float32) []byte {
	t.Helper()
	tsBytes, err := proto.Marshal(ts)
	require.NoError(t, err)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, tsBytes)
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(value))
	return b
}

func field(t *testing.T, msg protoreflect.Message, name string) protoreflect.Value {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
	require.NotNil(t, fd, "field %s", name)
	return msg.Get(fd)
}

func TestDefaultPool(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	for _, name := range []string{
		"keelson.Envelope",
		"keelson.primitives.TimestampedFloat",
		"keelson.primitives.TimestampedString",
		"foxglove.PointCloud",
		"keelson.compound.ImuReading",
		"google.protobuf.Timestamp",
	} {
		assert.True(t, pool.Has(name), name)
	}
	assert.IsNonDecreasing(t, pool.TypeNames())

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, pool, again)
}

func TestMessageDescriptor(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	md, err := pool.MessageDescriptor("keelson.primitives.TimestampedFloat")
	require.NoError(t, err)
	assert.Equal(t, protoreflect.FullName("keelson.primitives.TimestampedFloat"), md.FullName())
	assert.Equal(t, protoreflect.FloatKind, md.Fields().ByName("value").Kind())

	_, err = pool.MessageDescriptor("keelson.primitives.DoesNotExist")
	var unknown *errspkg.UnknownSchemaError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "keelson.primitives.DoesNotExist", unknown.TypeName)
	assert.ErrorIs(t, err, errspkg.ErrUnknownSchema)
}

func TestDecode(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	ts := &timestamppb.Timestamp{Seconds: 1_700_000_000, Nanos: 42}
	msg, err := pool.Decode(timestampedFloat(t, ts, 3.14), "keelson.primitives.TimestampedFloat")
	require.NoError(t, err)

	refl := msg.ProtoReflect()
	assert.InDelta(t, 3.14, field(t, refl, "value").Float(), 1e-6)

	stamp := field(t, refl, "timestamp").Message()
	assert.Equal(t, int64(1_700_000_000), field(t, stamp, "seconds").Int())
	assert.Equal(t, int64(42), field(t, stamp, "nanos").Int())
}

func TestDecodeErrors(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	_, err = pool.Decode([]byte{0x0a, 0x05, 0x01}, "keelson.primitives.TimestampedFloat")
	var decodeErr *errspkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "keelson.primitives.TimestampedFloat", decodeErr.TypeName)
	assert.ErrorIs(t, err, errspkg.ErrDecode)

	_, err = pool.Decode(nil, "nope.Nope")
	assert.ErrorIs(t, err, errspkg.ErrUnknownSchema)
}

func TestEnvelopeMatchesBundledSchema(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	wire := envelope.Enclose([]byte("hello"),
		envelope.WithEnclosedAt(1_500_000_000_123),
		envelope.WithSourceTimestamp(-1),
	)
	msg, err := pool.Decode(wire, "keelson.Envelope")
	require.NoError(t, err)
	refl := msg.ProtoReflect()

	assert.Equal(t, []byte("hello"), field(t, refl, "payload").Bytes())

	enclosed := field(t, refl, "enclosed_at").Message()
	assert.Equal(t, int64(1_500), field(t, enclosed, "seconds").Int())
	assert.Equal(t, int64(123), field(t, enclosed, "nanos").Int())

	source := field(t, refl, "source_timestamp").Message()
	assert.Equal(t, int64(-1), field(t, source, "seconds").Int())
	assert.Equal(t, int64(999_999_999), field(t, source, "nanos").Int())

	reencoded, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	require.NoError(t, err)
	back, err := envelope.Unmarshal(reencoded)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000_123), back.EnclosedAt)
	assert.Equal(t, int64(-1), back.SourceTimestamp)
	assert.True(t, back.HasSourceTimestamp)
}

func assertDependencyOrdered(t *testing.T, set *descriptorpb.FileDescriptorSet) {
	t.Helper()
	position := make(map[string]int, len(set.GetFile()))
	for i, f := range set.GetFile() {
		_, dup := position[f.GetName()]
		require.False(t, dup, "file %s appears twice", f.GetName())
		position[f.GetName()] = i
	}
	for i, f := range set.GetFile() {
		for _, dep := range f.GetDependency() {
			at, ok := position[dep]
			require.True(t, ok, "%s imports %s which is missing", f.GetName(), dep)
			assert.Less(t, at, i, "%s must precede %s", dep, f.GetName())
		}
	}
}

func TestDescriptorSetOrdering(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	set, err := pool.DescriptorSet("foxglove.PointCloud")
	require.NoError(t, err)

	names := make([]string, 0, len(set.GetFile()))
	for _, f := range set.GetFile() {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"foxglove/PackedElementField.proto",
		"foxglove/Quaternion.proto",
		"foxglove/Vector3.proto",
		"foxglove/Pose.proto",
		"google/protobuf/timestamp.proto",
		"foxglove/PointCloud.proto",
	}, names)
	assert.Equal(t, "foxglove/PointCloud.proto", names[len(names)-1])
	assertDependencyOrdered(t, set)

	// A remote decoder can compile the set without any local definitions.
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	_, err = files.FindDescriptorByName("foxglove.PointCloud")
	require.NoError(t, err)
}

func TestDescriptorSetSharedDependencyEmittedOnce(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)

	set, err := pool.DescriptorSet("keelson.compound.ImuReading")
	require.NoError(t, err)
	assertDependencyOrdered(t, set)
	assert.Len(t, set.GetFile(), 4)
	assert.Equal(t, "compound/ImuReading.proto", set.GetFile()[3].GetName())

	set, err = pool.DescriptorSet("keelson.primitives.TimestampedString")
	require.NoError(t, err)
	require.Len(t, set.GetFile(), 2)
	assert.Equal(t, "google/protobuf/timestamp.proto", set.GetFile()[0].GetName())
	assert.Equal(t, "primitives.proto", set.GetFile()[1].GetName())

	_, err = pool.DescriptorSet("missing.Type")
	assert.ErrorIs(t, err, errspkg.ErrUnknownSchema)
}

func TestAssembleDescriptorSetNil(t *testing.T) {
	assert.Empty(t, AssembleDescriptorSet(nil).GetFile())
}

func TestEveryProtobufTagResolves(t *testing.T) {
	reg, err := tags.Default()
	require.NoError(t, err)
	pool, err := Default()
	require.NoError(t, err)

	for _, name := range reg.Tags() {
		entry, err := reg.Lookup(name)
		require.NoError(t, err)
		if entry.Encoding != tags.EncodingProtobuf {
			continue
		}
		set, err := pool.DescriptorSet(entry.Description)
		require.NoError(t, err, "tag %s", name)
		assert.NotEmpty(t, set.GetFile(), "tag %s", name)
	}
}

func TestLoadBundleFile(t *testing.T) {
	pool, err := Default()
	require.NoError(t, err)
	set, err := pool.DescriptorSet("keelson.primitives.TimestampedFloat")
	require.NoError(t, err)

	binary, err := proto.Marshal(set)
	require.NoError(t, err)

	dir := t.TempDir()
	binPath := filepath.Join(dir, "bundle.binpb")
	require.NoError(t, os.WriteFile(binPath, binary, 0o600))

	loaded, err := LoadBundleFile(binPath)
	require.NoError(t, err)
	assert.True(t, loaded.Has("keelson.primitives.TimestampedFloat"))
	assert.False(t, loaded.Has("foxglove.PointCloud"))

	jsonPath := filepath.Join(dir, "bundle.json")
	require.NoError(t, os.WriteFile(jsonPath, DefaultBundle(), 0o600))
	loaded, err = LoadBundleFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, pool.TypeNames(), loaded.TypeNames())

	_, err = LoadBundleFile(filepath.Join(dir, "missing.binpb"))
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)
}

func TestInvalidBundles(t *testing.T) {
	_, err := ParseBundle([]byte("{not json"), FormatJSON)
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)

	_, err = ParseBundle([]byte{0xff, 0xff}, FormatBinary)
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)

	_, err = ParseBundle(nil, "xml")
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)

	unresolved := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:       proto.String("a.proto"),
		Package:    proto.String("a"),
		Dependency: []string{"not/linked.proto"},
		Syntax:     proto.String("proto3"),
	}}}
	_, err = NewPool(unresolved)
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)

	duplicate := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{
		{Name: proto.String("a.proto"), Syntax: proto.String("proto3")},
		{Name: proto.String("a.proto"), Syntax: proto.String("proto3")},
	}}
	_, err = NewPool(duplicate)
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)

	_, err = NewPool(nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigLoad)
}
