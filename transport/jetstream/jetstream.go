// Package jetstream provides a NATS JetStream transport. All keelson subjects
// live in one stream; topics are mapped to dotted subjects under the stream
// name.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/keelson/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when the config leaves nats_stream unset.
	DefaultStreamName = "KEELSON"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultInactiveThreshold removes consumers nobody fetched from, which
	// covers the one-shot reply subscriptions of queries.
	DefaultInactiveThreshold = 5 * time.Minute

	// HeaderMessageID carries the Watermill message UUID.
	HeaderMessageID = "keelson_message_id"
)

var errClosed = errors.New("jetstream: transport is closed")

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetNATSStream(),
		Consumer:   cfg.GetEntityID(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
		MapTopic:   transport.DotTopic,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	// If empty, defaults to DefaultStreamName.
	StreamName string

	// Consumer scopes durable consumer names, normally the entity id. Every
	// scope receives every message; subscribers sharing a scope split them.
	Consumer string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// InactiveThreshold is how long an idle consumer survives.
	InactiveThreshold time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue"
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = DefaultInactiveThreshold
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.Mutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new NATS JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (c Config) streamConfig() *nats.StreamConfig {
	streamCfg := &nats.StreamConfig{
		Name:     c.StreamName,
		Subjects: []string{c.StreamName + ".>"},
		MaxAge:   24 * time.Hour * 7,
		Replicas: c.Replicas,
	}

	switch c.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}
	return streamCfg
}

func (t *Transport) ensureStream() error {
	streamCfg := t.config.streamConfig()

	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		t.logger.Info("JetStream stream exists", watermill.LogFields{
			"stream": t.config.StreamName,
			"error":  err.Error(),
		})
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish publishes messages to the JetStream stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}

	subject := t.subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes to a topic and returns a channel of messages.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}

	subject := t.subject(topic)
	durable := consumerName(t.config.Consumer, topic)
	output := make(chan *message.Message)

	consumerCfg := &nats.ConsumerConfig{
		Durable:           durable,
		FilterSubject:     subject,
		AckPolicy:         nats.AckExplicitPolicy,
		MaxDeliver:        t.config.MaxDeliver,
		AckWait:           t.config.AckWait,
		InactiveThreshold: t.config.InactiveThreshold,
		DeliverPolicy:     nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	go t.fetchMessages(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)
	defer func() {
		t.subMu.Lock()
		if t.subscriptions[topic] == sub {
			delete(t.subscriptions, topic)
		}
		t.subMu.Unlock()
		_ = sub.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
				"topic": topic,
			})
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := fromNATS(natsMsg)
			wmMsg.SetContext(ctx)

			select {
			case output <- wmMsg:
			case <-ctx.Done():
				return
			}

			select {
			case <-wmMsg.Acked():
				if err := natsMsg.Ack(); err != nil {
					t.logger.Error("Failed to ack", err, watermill.LogFields{"topic": topic})
				}
			case <-wmMsg.Nacked():
				if err := natsMsg.Nak(); err != nil {
					t.logger.Error("Failed to nak", err, watermill.LogFields{"topic": topic})
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(HeaderMessageID, msg.UUID)

	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  headers,
	}
}

func fromNATS(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(HeaderMessageID)
	if msgID == "" {
		msgID = watermill.NewULID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == HeaderMessageID || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

// subject places an already mapped topic inside the stream. Topics that still
// carry the keelson delimiter are mapped here as well.
func (t *Transport) subject(topic string) string {
	if strings.Contains(topic, "/") {
		topic = transport.DotTopic(topic)
	}
	return t.config.StreamName + "." + topic
}

// durableEscaper keeps durable names free of '.', '*', '>' and whitespace,
// which JetStream rejects. Every escape starts with '_', so distinct inputs
// give distinct names.
var durableEscaper = strings.NewReplacer(
	"_", "__",
	".", "_d",
	"/", "_s",
	"*", "_w",
	">", "_g",
	" ", "_x",
	"\t", "_t",
)

// consumerName derives the durable name for scope and topic.
func consumerName(scope, topic string) string {
	if scope == "" {
		return "keelson_" + durableEscaper.Replace(topic)
	}
	return "keelson_" + durableEscaper.Replace(scope) + "_-" + durableEscaper.Replace(topic)
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
