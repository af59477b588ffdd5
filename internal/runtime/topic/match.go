package topic

import "strings"

const (
	// SingleWildcard matches exactly one segment.
	SingleWildcard = "*"
	// MultiWildcard matches zero or more segments.
	MultiWildcard = "**"
)

// PubSubKeyExpr returns a key expression matching every source of the given
// realm, entity and tag. Any field may itself be a wildcard.
func PubSubKeyExpr(realm, entityID, tag string) string {
	return strings.Join([]string{realm, entityID, tag, MultiWildcard}, Delimiter)
}

// IsKeyExpr reports whether pattern contains wildcard segments.
func IsKeyExpr(pattern string) bool {
	for _, seg := range strings.Split(pattern, Delimiter) {
		if seg == SingleWildcard || seg == MultiWildcard {
			return true
		}
	}
	return false
}

// Match reports whether topic is matched by the key expression pattern. A
// pattern without wildcards matches only the identical topic.
func Match(pattern, topic string) bool {
	return matchSegments(strings.Split(pattern, Delimiter), strings.Split(topic, Delimiter))
}

func matchSegments(pattern, topic []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == MultiWildcard {
			rest := pattern[1:]
			for len(rest) > 0 && rest[0] == MultiWildcard {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(topic); i++ {
				if matchSegments(rest, topic[i:]) {
					return true
				}
			}
			return false
		}
		if len(topic) == 0 {
			return false
		}
		if head != SingleWildcard && head != topic[0] {
			return false
		}
		pattern, topic = pattern[1:], topic[1:]
	}
	return len(topic) == 0
}
