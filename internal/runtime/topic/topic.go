// Package topic builds and parses the two canonical keelson topic shapes:
//
//	{realm}/{entity_id}/{tag}/{source_id}   publish/subscribe
//	{realm}/{entity_id}/rpc/{procedure}     request/reply
//
// Only the trailing source_id may contain the delimiter; everything after the
// third delimiter of a pub/sub topic is folded into it.
package topic

import (
	"strings"

	errspkg "github.com/drblury/keelson/internal/runtime/errors"
)

const (
	// Delimiter separates topic segments.
	Delimiter = "/"

	// RPCSegment is the literal third segment of every request/reply topic.
	// It is reserved and never accepted as a pub/sub tag.
	RPCSegment = "rpc"

	PubSubFormat = "{realm}/{entity_id}/{tag}/{source_id}"
	ReqRepFormat = "{realm}/{entity_id}/rpc/{procedure}"
)

// PubSubTopic holds the fields of a publish/subscribe topic.
type PubSubTopic struct {
	Realm    string `json:"realm"`
	EntityID string `json:"entity_id"`
	Tag      string `json:"tag"`
	SourceID string `json:"source_id"`
}

// Topic renders the fields back into a topic string.
func (t PubSubTopic) Topic() (string, error) {
	return ConstructPubSubTopic(t.Realm, t.EntityID, t.Tag, t.SourceID)
}

// ReqRepTopic holds the fields of a request/reply topic.
type ReqRepTopic struct {
	Realm     string `json:"realm"`
	EntityID  string `json:"entity_id"`
	Procedure string `json:"procedure"`
}

// Topic renders the fields back into a topic string.
func (t ReqRepTopic) Topic() (string, error) {
	return ConstructReqRepTopic(t.Realm, t.EntityID, t.Procedure)
}

// ConstructPubSubTopic formats the fields into a publish/subscribe topic.
// realm, entityID and tag must be non-empty and free of the delimiter; sourceID
// must be non-empty and may contain it.
func ConstructPubSubTopic(realm, entityID, tag, sourceID string) (string, error) {
	if err := validateSegment("realm", realm); err != nil {
		return "", err
	}
	if err := validateSegment("entity_id", entityID); err != nil {
		return "", err
	}
	if err := validateSegment("tag", tag); err != nil {
		return "", err
	}
	if tag == RPCSegment {
		return "", &errspkg.InvalidFieldError{Field: "tag", Value: tag, Reason: "reserved for request/reply topics"}
	}
	if sourceID == "" {
		return "", &errspkg.InvalidFieldError{Field: "source_id", Value: sourceID, Reason: "must not be empty"}
	}
	return strings.Join([]string{realm, entityID, tag, sourceID}, Delimiter), nil
}

// ConstructReqRepTopic formats the fields into a request/reply topic.
func ConstructReqRepTopic(realm, entityID, procedure string) (string, error) {
	if err := validateSegment("realm", realm); err != nil {
		return "", err
	}
	if err := validateSegment("entity_id", entityID); err != nil {
		return "", err
	}
	if err := validateSegment("procedure", procedure); err != nil {
		return "", err
	}
	return strings.Join([]string{realm, entityID, RPCSegment, procedure}, Delimiter), nil
}

// ParsePubSubTopic splits a publish/subscribe topic into its fields. The first
// three delimiters are reserved for realm, entity_id and tag; the remainder is
// the source_id.
func ParsePubSubTopic(topic string) (PubSubTopic, error) {
	parts := strings.SplitN(topic, Delimiter, 4)
	if len(parts) != 4 || hasEmpty(parts) || parts[2] == RPCSegment {
		return PubSubTopic{}, &errspkg.TopicFormatError{Topic: topic, Format: PubSubFormat}
	}
	return PubSubTopic{
		Realm:    parts[0],
		EntityID: parts[1],
		Tag:      parts[2],
		SourceID: parts[3],
	}, nil
}

// ParseReqRepTopic splits a request/reply topic into its fields. The topic has
// exactly four segments and the third is the rpc literal.
func ParseReqRepTopic(topic string) (ReqRepTopic, error) {
	parts := strings.Split(topic, Delimiter)
	if len(parts) != 4 || hasEmpty(parts) || parts[2] != RPCSegment {
		return ReqRepTopic{}, &errspkg.TopicFormatError{Topic: topic, Format: ReqRepFormat}
	}
	return ReqRepTopic{
		Realm:     parts[0],
		EntityID:  parts[1],
		Procedure: parts[3],
	}, nil
}

// TagFromPubSubTopic returns the tag of a publish/subscribe topic.
func TagFromPubSubTopic(topic string) (string, error) {
	parsed, err := ParsePubSubTopic(topic)
	if err != nil {
		return "", err
	}
	return parsed.Tag, nil
}

// ProcedureFromReqRepTopic returns the procedure of a request/reply topic.
func ProcedureFromReqRepTopic(topic string) (string, error) {
	parsed, err := ParseReqRepTopic(topic)
	if err != nil {
		return "", err
	}
	return parsed.Procedure, nil
}

// ValidateSegment reports whether value may be used as a single topic segment
// such as a realm or entity id.
func ValidateSegment(field, value string) error {
	return validateSegment(field, value)
}

func validateSegment(field, value string) error {
	if value == "" {
		return &errspkg.InvalidFieldError{Field: field, Value: value, Reason: "must not be empty"}
	}
	if strings.Contains(value, Delimiter) {
		return &errspkg.InvalidFieldError{Field: field, Value: value, Reason: "must not contain " + Delimiter}
	}
	return nil
}

func hasEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}
