// Package metadata holds the headers keelson attaches to bus messages next to
// the enveloped payload.
package metadata

// Reserved header keys.
const (
	// KeyTopic carries the keelson topic the message was published on. Brokers
	// that rewrite topic names still deliver the original here.
	KeyTopic = "keelson_topic"
	// KeyTag carries the tag segment of a pub/sub topic.
	KeyTag = "keelson_tag"
	// KeyCorrelationID ties a reply to its query.
	KeyCorrelationID = "correlation_id"
	// KeyReplyTo names the topic a queryable should answer on.
	KeyReplyTo = "keelson_reply_to"
	// KeyError is set on replies whose handler failed; the payload is empty.
	KeyError = "keelson_error"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

func (m Metadata) Topic() string         { return m[KeyTopic] }
func (m Metadata) Tag() string           { return m[KeyTag] }
func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }
func (m Metadata) ReplyTo() string       { return m[KeyReplyTo] }

// Error returns the remote failure reported on a reply, if any.
func (m Metadata) Error() (string, bool) {
	v, ok := m[KeyError]
	return v, ok
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
