package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/keelson/internal/runtime/config"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	transportpkg "github.com/drblury/keelson/internal/runtime/transport"
	"github.com/drblury/keelson/transport"
	"github.com/drblury/keelson/transport/transporttest"
)

const (
	testRealm  = "rise"
	testEntity = "landkrabba"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewNopServiceLogger()
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		Realm:        testRealm,
		EntityID:     testEntity,
		PubSubSystem: "channel",
		QueryTimeout: 2 * time.Second,
	}
}

// newChannelService builds a service on the in-memory channel transport.
func newChannelService(t *testing.T, conf *configpkg.Config) *Service {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return svc
}

type mockTransport struct {
	pub *transporttest.Publisher
	sub *transporttest.Subscriber
}

// newMockService builds a service on recording doubles. It is never started.
func newMockService(t *testing.T, conf *configpkg.Config, mapTopic func(string) string) (*Service, mockTransport) {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	m := mockTransport{pub: &transporttest.Publisher{}, sub: &transporttest.Subscriber{}}
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
		TransportFactory: transportpkg.Static(transport.Transport{
			Publisher:  m.pub,
			Subscriber: m.sub,
			MapTopic:   mapTopic,
		}),
	})
	require.NoError(t, err)
	return svc, m
}

// startService runs svc until the test ends and waits until every handler
// registered so far has subscribed.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = svc.Close()
		<-done
	})

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not start")
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}
