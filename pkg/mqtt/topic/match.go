package topic

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyTopic is returned for an empty topic or filter.
	ErrEmptyTopic = errors.New("topic is empty")

	// ErrInvalidWildcard is returned when a wildcard is used in a position MQTT does not allow.
	ErrInvalidWildcard = errors.New("invalid wildcard position")
)

// Match reports whether topic matches filter. Both "+" and "#" are supported,
// as is the "$share/{group}/" prefix on the filter.
func Match(filter, topic string) bool {
	filter = stripShare(filter)
	if filter == topic {
		return true
	}

	if !strings.ContainsAny(filter, Wildcard+MultiWildcard) {
		return false
	}

	filterParts := strings.Split(filter, Separator)
	topicParts := strings.Split(topic, Separator)

	for i, part := range filterParts {
		if part == MultiWildcard {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != Wildcard && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// ValidateFilter checks the placement of wildcards in an MQTT topic filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	parts := strings.Split(stripShare(filter), Separator)
	for i, part := range parts {
		switch {
		case part == MultiWildcard && i != len(parts)-1:
			return ErrInvalidWildcard
		case part != MultiWildcard && strings.Contains(part, MultiWildcard):
			return ErrInvalidWildcard
		case part != Wildcard && strings.Contains(part, Wildcard):
			return ErrInvalidWildcard
		}
	}
	return nil
}

// ValidateName checks that a topic used for publishing has no wildcards.
func ValidateName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if strings.ContainsAny(topic, Wildcard+MultiWildcard) {
		return ErrInvalidWildcard
	}
	return nil
}

// FromEventAdmin converts an Event Admin topic pattern into an MQTT filter.
// A trailing "*" becomes "#"; "*" alone subscribes to every topic.
func FromEventAdmin(pattern string) (string, error) {
	if pattern == "" {
		return "", ErrEmptyTopic
	}
	if pattern == EventAdminWildcard {
		return MultiWildcard, nil
	}
	if prefix, ok := strings.CutSuffix(pattern, Separator+EventAdminWildcard); ok {
		if strings.Contains(prefix, EventAdminWildcard) {
			return "", ErrInvalidWildcard
		}
		return prefix + Separator + MultiWildcard, nil
	}
	if strings.Contains(pattern, EventAdminWildcard) {
		return "", ErrInvalidWildcard
	}
	return pattern, nil
}

func stripShare(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		// Format: $share/<group>/<topic>
		parts := strings.SplitN(filter, Separator, 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
