package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/earpm/pkg/eventadmin"
	"github.com/autopeer-io/earpm/pkg/mqtt"
)

var _ IOptions = (*EarpmOptions)(nil)

// EarpmOptions tunes the remote provider: message pool, sync waits and local delivery.
type EarpmOptions struct {
	// ParallelMsgCapacity bounds the in-flight messages (EARPM_PARALLEL_MSG_CAPACITY).
	ParallelMsgCapacity int `json:"parallel-msg-capacity" mapstructure:"parallel-msg-capacity"`

	// SyncTimeout bounds a synchronous send without expiry interval.
	SyncTimeout time.Duration `json:"sync-timeout" mapstructure:"sync-timeout"`

	// FirstSendDelay holds back the first message so late subscribers catch up.
	FirstSendDelay time.Duration `json:"first-send-delay" mapstructure:"first-send-delay"`

	// DelivererQueueSize bounds the remote events waiting for local delivery.
	DelivererQueueSize int `json:"deliverer-queue-size" mapstructure:"deliverer-queue-size"`

	// SyncDeliveryTimeout bounds local delivery of a remote synchronous event.
	SyncDeliveryTimeout time.Duration `json:"sync-delivery-timeout" mapstructure:"sync-delivery-timeout"`

	// SubscribeQoS is used for handler topic subscriptions.
	SubscribeQoS int `json:"subscribe-qos" mapstructure:"subscribe-qos"`

	// LogTopics are event topic patterns whose remote events earpmd logs.
	LogTopics []string `json:"log-topics" mapstructure:"log-topics"`
}

// NewEarpmOptions creates an EarpmOptions with default values.
func NewEarpmOptions() *EarpmOptions {
	return &EarpmOptions{
		ParallelMsgCapacity: mqtt.DefaultParallelMsgCapacity,
		SyncTimeout:         mqtt.DefaultSyncTimeout,
		DelivererQueueSize:  eventadmin.DefaultQueueSize,
		SyncDeliveryTimeout: 30 * time.Second,
		SubscribeQoS:        int(mqtt.AtLeastOnce),
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *EarpmOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.ParallelMsgCapacity < 1 || o.ParallelMsgCapacity > mqtt.MaxParallelMsgCapacity {
		errs = append(errs, fmt.Errorf("earpm.parallel-msg-capacity %d must be between 1 and %d",
			o.ParallelMsgCapacity, mqtt.MaxParallelMsgCapacity))
	}
	if o.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("earpm.sync-timeout %s must be positive", o.SyncTimeout))
	}
	if o.FirstSendDelay < 0 {
		errs = append(errs, fmt.Errorf("earpm.first-send-delay %s must not be negative", o.FirstSendDelay))
	}
	if o.DelivererQueueSize < 1 {
		errs = append(errs, fmt.Errorf("earpm.deliverer-queue-size %d must be positive", o.DelivererQueueSize))
	}
	if o.SyncDeliveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("earpm.sync-delivery-timeout %s must be positive", o.SyncDeliveryTimeout))
	}
	if !mqtt.QoS(o.SubscribeQoS).Valid() || o.SubscribeQoS < 0 {
		errs = append(errs, fmt.Errorf("earpm.subscribe-qos %d must be 0, 1 or 2", o.SubscribeQoS))
	}

	return errs
}

// AddFlags adds flags for EarpmOptions to the specified FlagSet.
func (o *EarpmOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ParallelMsgCapacity, "earpm.parallel-msg-capacity", o.ParallelMsgCapacity, "Maximum number of in-flight MQTT messages.")
	fs.DurationVar(&o.SyncTimeout, "earpm.sync-timeout", o.SyncTimeout, "How long a synchronous send waits for the remote ack when the event has no expiry interval.")
	fs.DurationVar(&o.FirstSendDelay, "earpm.first-send-delay", o.FirstSendDelay, "Delay applied once to the first outbound message.")
	fs.IntVar(&o.DelivererQueueSize, "earpm.deliverer-queue-size", o.DelivererQueueSize, "Capacity of the remote event delivery queue.")
	fs.DurationVar(&o.SyncDeliveryTimeout, "earpm.sync-delivery-timeout", o.SyncDeliveryTimeout, "Timeout for delivering a remote synchronous event locally.")
	fs.IntVar(&o.SubscribeQoS, "earpm.subscribe-qos", o.SubscribeQoS, "QoS of event handler topic subscriptions.")
	fs.StringSliceVar(&o.LogTopics, "earpm.log-topics", o.LogTopics, "Event topic patterns (e.g. 'org/example/*') whose remote events are logged.")
}
