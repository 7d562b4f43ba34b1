package mqtt

import (
	"fmt"
	"time"
)

// QoS is the MQTT delivery guarantee of a message or subscription.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("QoS(%d)", byte(q))
	}
}

// Priority decides how much of the message pool a request may occupy.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMiddle
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMiddle:
		return "middle"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Request describes an outbound message.
type Request struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Priority Priority

	// ExpiryInterval is sent as the MQTT v5 message expiry interval, rounded up
	// to whole seconds. For PublishSync it also bounds the wait for the reply.
	// Zero means no expiry.
	ExpiryInterval time.Duration

	// UserProperties are sent in addition to the sender and version properties.
	UserProperties map[string]string
}

// Message is an inbound message that passed the receive path checks.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        QoS
	SenderUUID string
	Version    string

	// ResponseTopic and CorrelationData are set for synchronous events, which
	// must be answered with Client.Reply.
	ResponseTopic   string
	CorrelationData []byte

	UserProperties map[string]string
}

// IsSync reports whether the sender waits for a reply.
func (m *Message) IsSync() bool {
	return m.ResponseTopic != "" && len(m.CorrelationData) > 0
}

// MessageHandler receives inbound messages. It is called on the engine's
// network goroutine and must not block.
type MessageHandler func(msg *Message)
