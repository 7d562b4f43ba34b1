package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// Example: "sensors/+/temperature" matches "sensors/room1/temperature".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It must be the last character in the topic filter.
	// Example: "sensors/tesla/#" matches "sensors/tesla/engine/status".
	MultiWildcard = "#"

	// EventAdminWildcard is the Event Admin topic wildcard, only valid as the last token.
	EventAdminWildcard = "*"

	// Separator splits topic levels.
	Separator = "/"
)

// Topic segments shared by every provider instance on the same broker.
// Changing these values breaks compatibility with remote providers already deployed.
const (
	// DefaultRoot is the namespace used when no root is configured.
	DefaultRoot = "celix/EventAdminMqtt"

	// SuffixSyncAck carries replies to synchronous events.
	// Structure: {root}/Event/SyncAck/{senderUUID}
	SuffixSyncAck = "Event/SyncAck"

	// SuffixSessionEnd carries the will message of a provider instance.
	// Structure: {root}/Session/End/{senderUUID}
	SuffixSessionEnd = "Session/End"
)
