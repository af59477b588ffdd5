package jetstream

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/keelson/transport"
	"github.com/drblury/keelson/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.SupportsPersistence)
	assert.True(t, caps.RewritesTopics)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())
	assert.Equal(t, transport.NATSJetStreamCapabilities, (&Transport{}).Capabilities())
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "nats-jetstream", TransportName)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultInactiveThreshold, result.InactiveThreshold)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://localhost:4222",
			StreamName:      "CUSTOM",
			MaxDeliver:      5,
			AckWait:         60,
			Replicas:        3,
			RetentionPolicy: "workqueue",
		}
		result := cfg.withDefaults()

		assert.Equal(t, "nats://localhost:4222", result.URL)
		assert.Equal(t, "CUSTOM", result.StreamName)
		assert.Equal(t, 5, result.MaxDeliver)
		assert.Equal(t, cfg.AckWait, result.AckWait)
		assert.Equal(t, 3, result.Replicas)
		assert.Equal(t, "workqueue", result.RetentionPolicy)
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		result := Config{MaxDeliver: -1, AckWait: -1, Replicas: -1}.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, 1, result.Replicas)
	})
}

func TestStreamConfig(t *testing.T) {
	cfg := Config{StreamName: "BOATS", RetentionPolicy: "interest"}.withDefaults()
	stream := cfg.streamConfig()

	assert.Equal(t, "BOATS", stream.Name)
	assert.Equal(t, []string{"BOATS.>"}, stream.Subjects)
	assert.Equal(t, nats.InterestPolicy, stream.Retention)
	assert.Equal(t, nats.LimitsPolicy, Config{}.withDefaults().streamConfig().Retention)
}

func TestSubjectAndConsumerNames(t *testing.T) {
	tr := &Transport{config: Config{}.withDefaults()}

	assert.Equal(t, "KEELSON.rise.landkrabba.engine_rpm.port", tr.subject("rise.landkrabba.engine_rpm.port"))
	assert.Equal(t, "KEELSON.rise.landkrabba.engine_rpm.port", tr.subject("rise/landkrabba/engine_rpm/port"))
	assert.Equal(t, "KEELSON.rise.landkrabba.engine_rpm.a-_b", tr.subject("rise.landkrabba.engine_rpm.a-_b"))

	assert.Equal(t, "keelson_rise_dlandkrabba_drpc_dset__rudder", consumerName("", "rise.landkrabba.rpc.set_rudder"))
	for _, bad := range []string{".", "*", ">", " "} {
		assert.NotContains(t, consumerName("sh ore", "a.b/c*d>e f"), bad)
	}
}

func TestConsumerNameIsScopedAndUnambiguous(t *testing.T) {
	topic := "rise.landkrabba.rudder_angle_deg.port"
	assert.NotEqual(t, consumerName("shore", topic), consumerName("bridge", topic))
	assert.Equal(t, consumerName("shore", topic), consumerName("shore", topic))

	assert.NotEqual(t, consumerName("shore", "r.e.t.a_b"), consumerName("shore", "r.e.t.a.b"))
	assert.NotEqual(t, consumerName("shore", "r/e/t/a.b"), consumerName("shore", "r/e/t/a/b"))
	assert.NotEqual(t, consumerName("a_", "b"), consumerName("a", "_b"))
}

func TestMessageConversion(t *testing.T) {
	msg := message.NewMessage("01J0000000000000000000000", []byte{0x0a, 0x00})
	msg.Metadata.Set("keelson_topic", "rise/landkrabba/engine_rpm/port")

	natsMsg := toNATS("KEELSON.rise.landkrabba.engine_rpm.port", msg)
	assert.Equal(t, "KEELSON.rise.landkrabba.engine_rpm.port", natsMsg.Subject)
	assert.Equal(t, msg.UUID, natsMsg.Header.Get(HeaderMessageID))

	back := fromNATS(natsMsg)
	assert.Equal(t, msg.UUID, back.UUID)
	assert.Equal(t, []byte(msg.Payload), []byte(back.Payload))
	assert.Equal(t, "rise/landkrabba/engine_rpm/port", back.Metadata.Get("keelson_topic"))
	assert.Empty(t, back.Metadata.Get(HeaderMessageID))

	anonymous := fromNATS(&nats.Msg{Data: []byte("x"), Header: nats.Header{}})
	assert.NotEmpty(t, anonymous.UUID)
}

func TestBuildConnectError(t *testing.T) {
	original := Connect
	defer func() { Connect = original }()

	var dialed string
	Connect = func(url string) (*nats.Conn, error) {
		dialed = url
		return nil, errors.New("no servers available")
	}

	_, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no servers available")
	assert.Equal(t, "nats://localhost:4222", dialed)
}
