package mqtt

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"k8s.io/utils/ptr"
)

// User property keys carried by every message.
const (
	PropSenderUUID = "celix.earpm.sender.uuid"
	PropMsgVersion = "celix.earpm.msg.version"

	// PropHandlerError is set on a sync reply when the remote handler failed.
	PropHandlerError = "celix.earpm.handler.error"
)

// expirySeconds rounds d up to whole seconds as MQTT expects.
func expirySeconds(d time.Duration) *uint32 {
	if d <= 0 {
		return nil
	}
	secs := math.Ceil(d.Seconds())
	if secs > math.MaxUint32 {
		secs = math.MaxUint32
	}
	return ptr.To(uint32(secs))
}

func (c *Client) identityProperties() paho.UserProperties {
	return paho.UserProperties{
		{Key: PropSenderUUID, Value: c.cfg.SenderUUID},
		{Key: PropMsgVersion, Value: MessageVersion},
	}
}

// publishPacket builds the wire message for d. Caller supplied properties
// cannot override the identity pair.
func (c *Client) publishPacket(d *messageDescriptor) *paho.Publish {
	props := &paho.PublishProperties{
		MessageExpiry: expirySeconds(d.expiry),
	}
	if d.responseTopic != "" {
		props.ResponseTopic = d.responseTopic
	}
	if len(d.correlationData) > 0 {
		props.CorrelationData = d.correlationData
	}
	props.User = c.identityProperties()
	for _, k := range slices.Sorted(maps.Keys(d.userProperties)) {
		if k == PropSenderUUID || k == PropMsgVersion {
			continue
		}
		props.User = append(props.User, paho.UserProperty{Key: k, Value: d.userProperties[k]})
	}

	return &paho.Publish{
		Topic:      d.topic,
		QoS:        byte(d.qos),
		Payload:    d.payload,
		Properties: props,
	}
}

// userPropertyMap flattens user properties. When a key repeats the first value wins.
func userPropertyMap(props paho.UserProperties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for _, p := range props {
		if _, ok := out[p.Key]; !ok {
			out[p.Key] = p.Value
		}
	}
	return out
}

// compatibleVersion accepts any version with the same major number as MessageVersion.
func compatibleVersion(v string) bool {
	return majorVersion(v) >= 0 && majorVersion(v) == majorVersion(MessageVersion)
}

func majorVersion(v string) int {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// userProperty returns the first value stored under key.
func userProperty(props *paho.PublishProperties, key string) (string, bool) {
	if props == nil {
		return "", false
	}
	for _, p := range props.User {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}
