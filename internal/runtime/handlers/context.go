// Package handlers turns typed subscriber and queryable callbacks into the
// untyped adapters the service router drives.
package handlers

import (
	"time"

	"github.com/drblury/keelson/internal/runtime/envelope"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metadatapkg "github.com/drblury/keelson/internal/runtime/metadata"
	"github.com/drblury/keelson/internal/runtime/topic"
)

// MessageContextBase holds the metadata and logger shared by every handler context.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can
// mutate headers without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata.CorrelationID()
}

// SampleContext describes a received pub/sub sample apart from its payload.
type SampleContext struct {
	MessageContextBase
	Topic    topic.PubSubTopic
	Envelope envelope.Uncovered
}

// Tag returns the tag segment of the sample's topic.
func (c SampleContext) Tag() string { return c.Topic.Tag }

// SourceID returns the source segment of the sample's topic.
func (c SampleContext) SourceID() string { return c.Topic.SourceID }

// Latency is the time between enclosing and uncovering the sample.
func (c SampleContext) Latency() time.Duration { return c.Envelope.Latency() }

// RequestContext describes a received query apart from its payload.
type RequestContext struct {
	MessageContextBase
	Topic    topic.ReqRepTopic
	Envelope envelope.Uncovered
}

// Procedure returns the procedure segment of the request topic.
func (c RequestContext) Procedure() string { return c.Topic.Procedure }
