package mqtt

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

const (
	// MessageVersion is the schema version attached to every outbound message.
	MessageVersion = "1.0.0"

	DefaultParallelMsgCapacity = 20
	DefaultSyncTimeout         = 5 * time.Second
	DefaultSessionExpiry       = 10 // seconds
	DefaultWillDelay           = 5  // seconds
	DefaultKeepAlive           = 60 // seconds
	DefaultConnectTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = 3 * time.Second

	// MaxParallelMsgCapacity bounds the pool so a misconfiguration cannot pin unbounded goroutines.
	MaxParallelMsgCapacity = 4096
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	// ClientID defaults to SenderUUID.
	ClientID string
	Username string
	Password string

	// SenderUUID identifies this provider instance in the user properties of
	// every outbound message. Generated when empty.
	SenderUUID string

	// TopicRoot is the namespace of the control topics (sync ack, session end).
	TopicRoot string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for each connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectBackoff is the delay between connection attempts. Default is 3s.
	ReconnectBackoff time.Duration

	// CleanStart indicates whether to start a clean session on the first connection.
	CleanStart bool

	// SessionExpiry in seconds. Default is 10.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification for tls/ssl/wss brokers.
	InsecureSkipVerify bool

	// WillTopic defaults to the session end topic of SenderUUID.
	WillTopic   string
	WillPayload []byte
	WillQoS     QoS

	// WillDelay in seconds. Default is 5.
	WillDelay uint32

	// ParallelMsgCapacity bounds the number of in-flight messages. Default is 20.
	ParallelMsgCapacity int

	// SyncTimeout bounds PublishSync when the request has no expiry interval. Default is 5s.
	SyncTimeout time.Duration

	// FirstSendDelay postpones the first publish of this client so that remote
	// subscribers which joined together with it can finish subscribing.
	FirstSendDelay time.Duration

	// OnMessage receives inbound events. Replies to this client's synchronous
	// publishes are consumed internally and never reach it.
	OnMessage MessageHandler

	// Debug routes autopaho and paho debug output to the logger.
	Debug bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.SenderUUID == "" {
		cfg.SenderUUID = uuid.NewString()
	}

	if cfg.ClientID == "" {
		cfg.ClientID = cfg.SenderUUID
	}

	if cfg.TopicRoot == "" {
		cfg.TopicRoot = topic.DefaultRoot
	}

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = DefaultSessionExpiry
	}

	if cfg.WillDelay == 0 {
		cfg.WillDelay = DefaultWillDelay
	}

	if cfg.WillTopic == "" {
		cfg.WillTopic = topic.NewTopicBuilder(cfg.TopicRoot).SessionEnd(cfg.SenderUUID)
	}

	if cfg.ParallelMsgCapacity == 0 {
		cfg.ParallelMsgCapacity = DefaultParallelMsgCapacity
	}

	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.ParallelMsgCapacity < 1 || c.ParallelMsgCapacity > MaxParallelMsgCapacity {
		return errors.New("parallel message capacity must be between 1 and 4096")
	}
	if c.SyncTimeout < 0 {
		return errors.New("sync timeout must not be negative")
	}
	if c.FirstSendDelay < 0 {
		return errors.New("first send delay must not be negative")
	}
	if !c.WillQoS.Valid() {
		return ErrInvalidQoS
	}
	if err := topic.ValidateName(c.WillTopic); err != nil {
		return errors.Join(ErrInvalidTopic, err)
	}
	return nil
}
