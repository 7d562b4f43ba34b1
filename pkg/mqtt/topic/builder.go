package topic

import (
	"fmt"
	"strings"
)

// TopicBuilder constructs the control topics used by the remote provider.
type TopicBuilder struct {
	// root is the base namespace for all control topics.
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	if root == "" {
		root = DefaultRoot
	}
	return &TopicBuilder{root: strings.TrimSuffix(root, Separator)}
}

// Root returns the configured namespace.
func (b *TopicBuilder) Root() string {
	return b.root
}

// SyncAck returns the topic on which senderUUID receives replies to its synchronous events.
func (b *TopicBuilder) SyncAck(senderUUID string) string {
	return b.build(SuffixSyncAck, senderUUID)
}

// SessionEnd returns the will topic of senderUUID.
func (b *TopicBuilder) SessionEnd(senderUUID string) string {
	return b.build(SuffixSessionEnd, senderUUID)
}

// SessionEndWildcard matches the will topic of every provider instance.
// Result: {root}/Session/End/+
func (b *TopicBuilder) SessionEndWildcard() string {
	return b.build(SuffixSessionEnd, Wildcard)
}

// IsControl reports whether t lives under the control namespace.
func (b *TopicBuilder) IsControl(t string) bool {
	return strings.HasPrefix(t, b.root+Separator)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
