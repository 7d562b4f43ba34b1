package eventadmin

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// Event properties understood by the remote provider.
const (
	// PropRemoteEnable set to "false" keeps the event local.
	PropRemoteEnable = "celix.event.remote.enable"

	// PropRemoteQoS is the MQTT QoS (0, 1 or 2) used to forward the event.
	PropRemoteQoS = "celix.event.remote.qos"

	// PropRemotePriority is one of "low", "middle" or "high".
	PropRemotePriority = "celix.event.remote.priority"

	// PropRemoteExpiryInterval is the message expiry in seconds.
	PropRemoteExpiryInterval = "celix.event.remote.expiryInterval"
)

// Properties is the string keyed property map of an event.
type Properties map[string]string

func (p Properties) Get(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Properties) Set(key, value string) {
	p[key] = value
}

// Keys returns the property keys in lexical order.
func (p Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func (p Properties) Copy() Properties {
	if p == nil {
		return Properties{}
	}
	return maps.Clone(p)
}

// GetBool parses key as a boolean, returning def when absent or malformed.
func (p Properties) GetBool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetInt parses key as an integer, returning def when absent or malformed.
func (p Properties) GetInt(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// maxDurationSeconds is the longest time.Duration, in seconds.
const maxDurationSeconds = math.MaxInt64 / float64(time.Second)

// GetDuration parses key as a number of seconds, returning def when absent,
// negative or too large for a time.Duration.
func (p Properties) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs >= maxDurationSeconds {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// Event is a topic plus its properties.
type Event struct {
	Topic      string
	Properties Properties
}

// NewEvent copies props so the caller keeps ownership of its map.
func NewEvent(topic string, props Properties) *Event {
	return &Event{Topic: topic, Properties: props.Copy()}
}

// Copy returns a deep copy of the event.
func (e *Event) Copy() *Event {
	return NewEvent(e.Topic, e.Properties)
}

// Marshal encodes the properties as the MQTT payload. Keys are emitted in
// sorted order so the same event always encodes to the same bytes.
func (e *Event) Marshal() ([]byte, error) {
	if e.Topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidEvent)
	}
	props := e.Properties
	if props == nil {
		props = Properties{}
	}
	return json.Marshal(props)
}

// Unmarshal decodes an MQTT payload produced by Marshal. An empty payload is
// an event without properties.
func Unmarshal(topic string, payload []byte) (*Event, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidEvent)
	}
	props := Properties{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &props); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	}
	if props == nil {
		// The payload was JSON null.
		props = Properties{}
	}
	return &Event{Topic: topic, Properties: props}, nil
}
