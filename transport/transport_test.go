package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

type pubSub struct {
	mockPublisher
}

func (p *pubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return nil, nil
}

func TestTransportTopic(t *testing.T) {
	plain := Transport{}
	assert.Equal(t, "rise/boat/engine_rpm/port", plain.Topic("rise/boat/engine_rpm/port"))

	dotted := Transport{MapTopic: DotTopic}
	assert.Equal(t, "rise.boat.engine_rpm.port", dotted.Topic("rise/boat/engine_rpm/port"))
}

func TestDotTopic(t *testing.T) {
	assert.Equal(t, "a.b.c.d.e", DotTopic("a/b/c/d/e"))
	assert.Equal(t, "plain", DotTopic("plain"))
	assert.Equal(t, "rise.boat.engine_rpm.192-_168-_1-_10", DotTopic("rise/boat/engine_rpm/192.168.1.10"))
	assert.Equal(t, "r.e.t.port--side", DotTopic("r/e/t/port-side"))
}

func TestDotTopicIsInjective(t *testing.T) {
	topics := []string{
		"r/e/t/a.b",
		"r/e/t/a/b",
		"r/e/t/a-_b",
		"r/e/t/a-.b",
		"r/e/t/a--b",
		"r/e/t/a-/b",
	}
	seen := make(map[string]string, len(topics))
	for _, topic := range topics {
		mapped := DotTopic(topic)
		if prev, ok := seen[mapped]; ok {
			t.Fatalf("%q and %q both map to %q", prev, topic, mapped)
		}
		seen[mapped] = topic
		assert.NotContains(t, mapped, "/")
	}
}

func TestTransportClose(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)

	shared := &pubSub{}
	assert.NoError(t, Transport{Publisher: shared, Subscriber: shared}.Close())
	assert.Equal(t, 1, shared.closed)

	assert.NoError(t, Transport{}.Close())
}

func TestConfig_Interface(t *testing.T) {
	var _ Config = (*mockConfig)(nil)

	cfg := &mockConfig{pubSubSystem: "test"}
	assert.Equal(t, "test", cfg.GetPubSubSystem())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var provider CapabilitiesProvider = testProvider{}
	assert.Equal(t, "test", provider.Capabilities().Name)
}
