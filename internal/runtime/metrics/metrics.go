// Package metrics records per-tag envelope statistics: samples published,
// received and dropped, envelope latency and the delay between a sample's
// source timestamp and its enclosure.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "keelson"

	ReasonMalformedEnvelope = "malformed_envelope"
	ReasonTopicFormat       = "topic_format"
	ReasonUnknownTag        = "unknown_tag"
	ReasonDecode            = "decode"
)

// TagMetrics is the in-process view of one tag's counters.
type TagMetrics struct {
	Published      uint64        `json:"published"`
	Received       uint64        `json:"received"`
	Dropped        uint64        `json:"dropped"`
	LastLatency    time.Duration `json:"last_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
	LastReceivedAt time.Time     `json:"last_received_at,omitempty"`
}

// Snapshot is a point-in-time copy of every tag's counters.
type Snapshot struct {
	Tags        map[string]TagMetrics `json:"tags"`
	Queries     uint64                `json:"queries"`
	QueryErrors uint64                `json:"query_errors"`
	CollectedAt time.Time             `json:"collected_at"`
}

// Envelope collects envelope statistics. All methods are safe on a nil
// receiver, which records nothing.
type Envelope struct {
	mu sync.RWMutex

	tags        map[string]*TagMetrics
	queries     uint64
	queryErrors uint64

	published     *prometheus.CounterVec
	received      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	payloadBytes  *prometheus.HistogramVec
	latency       *prometheus.HistogramVec
	sourceDelay   *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NewEnvelope creates the collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewEnvelope(registerer prometheus.Registerer) *Envelope {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Envelope{
		tags:          make(map[string]*TagMetrics),
		registerer:    registerer,
		published:     newCounterVec("envelope", "published_total", "Envelopes published, by tag", "tag"),
		received:      newCounterVec("envelope", "received_total", "Envelopes uncovered and decoded, by tag", "tag"),
		dropped:       newCounterVec("envelope", "dropped_total", "Envelopes dropped without reaching a handler, by tag and reason", "tag", "reason"),
		payloadBytes:  newHistogramVec("envelope", "payload_bytes", "Payload size of published envelopes", prometheus.ExponentialBuckets(16, 4, 10), "tag"),
		latency:       newHistogramVec("envelope", "latency_seconds", "Time between enclosed_at and received_at", latencyBuckets, "tag"),
		sourceDelay:   newHistogramVec("envelope", "source_delay_seconds", "Time between source_timestamp and enclosed_at", latencyBuckets, "tag"),
		queryTotal:    newCounterVec("query", "total", "Queries issued, by procedure and outcome", "procedure", "outcome"),
		queryDuration: newHistogramVec("query", "duration_seconds", "Query round trip time", latencyBuckets, "procedure"),
	}
}

// Register registers the collectors. Repeated calls are no-ops. When an
// identical collector is already registered, for example by another Envelope
// on the same registry, it is adopted so both record into the exported series.
func (m *Envelope) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []**prometheus.CounterVec{&m.published, &m.received, &m.dropped, &m.queryTotal} {
		if err := register(m.registerer, c); err != nil {
			return err
		}
	}
	for _, h := range []**prometheus.HistogramVec{&m.payloadBytes, &m.latency, &m.sourceDelay, &m.queryDuration} {
		if err := register(m.registerer, h); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c *C) error {
	err := registerer.Register(*c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// ObservePublished records an envelope handed to the publisher.
func (m *Envelope) ObservePublished(tag string, payloadSize int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tag(tag).Published++
	m.mu.Unlock()

	m.published.WithLabelValues(tag).Inc()
	m.payloadBytes.WithLabelValues(tag).Observe(float64(payloadSize))
}

// ObserveReceived records a decoded envelope. sourceTimestamp is ignored when
// hasSource is false. enclosed_at earlier than source_timestamp is recorded
// as a zero delay.
func (m *Envelope) ObserveReceived(tag string, enclosedAt, receivedAt, sourceTimestamp int64, hasSource bool) {
	if m == nil {
		return
	}
	latency := time.Duration(receivedAt - enclosedAt)

	m.mu.Lock()
	tm := m.tag(tag)
	tm.Received++
	tm.LastLatency = latency
	if latency > tm.MaxLatency {
		tm.MaxLatency = latency
	}
	tm.LastReceivedAt = time.Unix(0, receivedAt)
	m.mu.Unlock()

	m.received.WithLabelValues(tag).Inc()
	m.latency.WithLabelValues(tag).Observe(max(latency, 0).Seconds())
	if hasSource {
		delay := max(time.Duration(enclosedAt-sourceTimestamp), 0)
		m.sourceDelay.WithLabelValues(tag).Observe(delay.Seconds())
	}
}

// ObserveDropped records a message discarded before reaching a handler.
func (m *Envelope) ObserveDropped(tag, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tag(tag).Dropped++
	m.mu.Unlock()

	m.dropped.WithLabelValues(tag, reason).Inc()
}

// ObserveQuery records the outcome of a query round trip.
func (m *Envelope) ObserveQuery(procedure string, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	m.mu.Lock()
	m.queries++
	if err != nil {
		m.queryErrors++
		outcome = "error"
	}
	m.mu.Unlock()

	m.queryTotal.WithLabelValues(procedure, outcome).Inc()
	m.queryDuration.WithLabelValues(procedure).Observe(took.Seconds())
}

// Tag returns a copy of the counters for tag.
func (m *Envelope) Tag(tag string) (TagMetrics, bool) {
	if m == nil {
		return TagMetrics{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	tm, ok := m.tags[tag]
	if !ok {
		return TagMetrics{}, false
	}
	return *tm, true
}

// Snapshot returns a copy of every tag's counters.
func (m *Envelope) Snapshot() Snapshot {
	snap := Snapshot{Tags: map[string]TagMetrics{}, CollectedAt: time.Now()}
	if m == nil {
		return snap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, tm := range m.tags {
		snap.Tags[name] = *tm
	}
	snap.Queries = m.queries
	snap.QueryErrors = m.queryErrors
	return snap
}

// Reset clears all counters.
func (m *Envelope) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tags = make(map[string]*TagMetrics)
	m.queries, m.queryErrors = 0, 0
	m.published.Reset()
	m.received.Reset()
	m.dropped.Reset()
	m.payloadBytes.Reset()
	m.latency.Reset()
	m.sourceDelay.Reset()
	m.queryTotal.Reset()
	m.queryDuration.Reset()
}

func (m *Envelope) tag(tag string) *TagMetrics {
	tm, ok := m.tags[tag]
	if !ok {
		tm = &TagMetrics{}
		m.tags[tag] = tm
	}
	return tm
}
