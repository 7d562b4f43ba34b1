package options

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT client and its control topics.
type MqttOptions struct {
	// Broker is an optional static broker URL. Brokers found by discovery are
	// used in addition to it.
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// SenderUUID identifies this provider instance. Generated when empty.
	SenderUUID string `json:"sender-uuid" mapstructure:"sender-uuid"`

	// Client behavior
	KeepAlive        time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout   time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectBackoff time.Duration `json:"reconnect-backoff" mapstructure:"reconnect-backoff"`
	SessionExpiry    uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	WillDelay        uint32        `json:"will-delay" mapstructure:"will-delay"`
	CleanStart       bool          `json:"clean-start" mapstructure:"clean-start"`
	Debug            bool          `json:"debug" mapstructure:"debug"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// If true, TLS accepts any certificate presented by the server and any host name in that certificate.
	// In this mode, TLS is susceptible to man-in-the-middle attacks. This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot is the namespace of the control topics: {TopicRoot}/Event/SyncAck/{uuid}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		KeepAlive:        mqtt.DefaultKeepAlive * time.Second,
		ConnectTimeout:   mqtt.DefaultConnectTimeout,
		ReconnectBackoff: mqtt.DefaultReconnectBackoff,
		SessionExpiry:    mqtt.DefaultSessionExpiry,
		WillDelay:        mqtt.DefaultWillDelay,
		CleanStart:       true,
		TopicRoot:        topic.DefaultRoot,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Broker != "" {
		if _, err := url.Parse(o.Broker); err != nil {
			errs = append(errs, fmt.Errorf("invalid mqtt.broker %q: %w", o.Broker, err))
		}
	}
	if o.KeepAlive < time.Second || o.KeepAlive > 65535*time.Second {
		errs = append(errs, fmt.Errorf("mqtt.keep-alive %s must be between 1s and 65535s", o.KeepAlive))
	}
	if o.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("mqtt.connect-timeout must be positive"))
	}
	if o.ReconnectBackoff <= 0 {
		errs = append(errs, errors.New("mqtt.reconnect-backoff must be positive"))
	}
	if o.TopicRoot == "" {
		errs = append(errs, errors.New("mqtt.topic-root must not be empty"))
	} else if err := topic.ValidateName(o.TopicRoot); err != nil {
		errs = append(errs, fmt.Errorf("invalid mqtt.topic-root %q: %w", o.TopicRoot, err))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "Static MQTT broker URL, used next to discovered brokers.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, defaults to the sender UUID).")
	fs.StringVar(&o.SenderUUID, "mqtt.sender-uuid", o.SenderUUID, "Sender UUID of this provider (optional, generated).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectBackoff, "mqtt.reconnect-backoff", o.ReconnectBackoff, "Delay between connection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.Uint32Var(&o.WillDelay, "mqtt.will-delay", o.WillDelay, "Delay in seconds before the broker publishes the session end will.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start with a clean session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")
	fs.BoolVar(&o.Debug, "mqtt.debug", o.Debug, "Log MQTT engine debug output.")

	// Topics
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Namespace of the sync ack and session end topics.")
}

// ToClientConfig builds the client configuration. The earpm options supply
// the pool and timing settings.
func (o *MqttOptions) ToClientConfig(e *EarpmOptions) *mqtt.ClientConfig {
	cfg := &mqtt.ClientConfig{
		ClientID:           o.ClientID,
		Username:           o.Username,
		Password:           o.Password,
		SenderUUID:         o.SenderUUID,
		TopicRoot:          o.TopicRoot,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectBackoff:   o.ReconnectBackoff,
		CleanStart:         o.CleanStart,
		SessionExpiry:      o.SessionExpiry,
		WillDelay:          o.WillDelay,
		InsecureSkipVerify: o.InsecureSkipVerify,
		Debug:              o.Debug,
	}
	if e != nil {
		cfg.ParallelMsgCapacity = e.ParallelMsgCapacity
		cfg.SyncTimeout = e.SyncTimeout
		cfg.FirstSendDelay = e.FirstSendDelay
	}
	return cfg
}
