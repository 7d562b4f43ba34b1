// Package provider forwards local events to remote peers over MQTT and
// delivers remote events to the local event admin.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/earpm/pkg/eventadmin"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

// DefaultSyncDeliveryTimeout bounds local delivery of a remote synchronous event.
const DefaultSyncDeliveryTimeout = 30 * time.Second

var (
	// ErrClosed is returned by a stopped provider.
	ErrClosed = errors.New("provider: closed")

	// ErrInvalidHandler is returned for a handler without an id or topics.
	ErrInvalidHandler = errors.New("provider: invalid handler")
)

// Transport is the MQTT client surface the provider needs.
type Transport interface {
	Subscribe(ctx context.Context, filter string, qos mqtt.QoS) error
	Unsubscribe(ctx context.Context, filter string) error
	PublishAsync(ctx context.Context, req *mqtt.Request) error
	PublishSync(ctx context.Context, req *mqtt.Request) error
	Reply(ctx context.Context, msg *mqtt.Message, handlerErr error) error
	AddBroker(info mqtt.BrokerInfo) error
	RemoveBroker(key string)
}

// Deliverer hands remote events to the local event admin.
type Deliverer interface {
	Post(e *eventadmin.Event) error
	Send(ctx context.Context, e *eventadmin.Event) error
}

// Options configures a Provider.
type Options struct {
	// TopicRoot must match the client's control topic root.
	TopicRoot string

	// SubscribeQoS is used for handler topic subscriptions. Default is at-least-once.
	SubscribeQoS mqtt.QoS

	// AsyncQoS and SyncQoS apply when an event has no remote QoS property.
	AsyncQoS mqtt.QoS
	SyncQoS  mqtt.QoS

	// DefaultPriority applies when an event has no remote priority property.
	DefaultPriority mqtt.Priority

	SyncDeliveryTimeout time.Duration

	Logger log.Logger
}

// NewOptions returns the default provider options.
func NewOptions() Options {
	return Options{
		TopicRoot:           topic.DefaultRoot,
		SubscribeQoS:        mqtt.AtLeastOnce,
		AsyncQoS:            mqtt.AtMostOnce,
		SyncQoS:             mqtt.AtLeastOnce,
		DefaultPriority:     mqtt.PriorityMiddle,
		SyncDeliveryTimeout: DefaultSyncDeliveryTimeout,
	}
}

// Provider is the remote event admin provider.
type Provider struct {
	opts      Options
	transport Transport
	deliverer Deliverer
	topics    *topic.TopicBuilder
	logger    log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	handlers map[string][]string
	interest map[string]int
}

// New creates a provider. Its HandleMessage must be installed as the
// transport's inbound message handler.
func New(transport Transport, deliverer Deliverer, opts Options) *Provider {
	if opts.SyncDeliveryTimeout <= 0 {
		opts.SyncDeliveryTimeout = DefaultSyncDeliveryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Std()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		opts:      opts,
		transport: transport,
		deliverer: deliverer,
		topics:    topic.NewTopicBuilder(opts.TopicRoot),
		logger:    logger.WithName("provider"),
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string][]string),
		interest:  make(map[string]int),
	}
}

// Start subscribes to the session end topics of remote providers.
func (p *Provider) Start(ctx context.Context) error {
	filter := p.topics.SessionEndWildcard()
	if err := p.transport.Subscribe(ctx, filter, mqtt.AtLeastOnce); err != nil && !errors.Is(err, mqtt.ErrProtocol) {
		return fmt.Errorf("subscribe session end topic: %w", err)
	}
	p.logger.Info("Remote provider started", "topicRoot", p.topics.Root())
	return nil
}

// Stop waits for in-progress synchronous deliveries.
func (p *Provider) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info("Remote provider stopped")
}

// PostEvent forwards e to remote peers without waiting for them.
func (p *Provider) PostEvent(ctx context.Context, e *eventadmin.Event) error {
	req, forward, err := p.request(e, p.opts.AsyncQoS)
	if err != nil || !forward {
		return err
	}
	return p.transport.PublishAsync(ctx, req)
}

// SendEvent forwards e and returns once a remote peer acknowledged it.
func (p *Provider) SendEvent(ctx context.Context, e *eventadmin.Event) error {
	req, forward, err := p.request(e, p.opts.SyncQoS)
	if err != nil || !forward {
		return err
	}
	return p.transport.PublishSync(ctx, req)
}

func (p *Provider) request(e *eventadmin.Event, defQoS mqtt.QoS) (*mqtt.Request, bool, error) {
	if p.isClosed() {
		return nil, false, ErrClosed
	}
	if e == nil {
		return nil, false, eventadmin.ErrInvalidEvent
	}
	if !e.Properties.GetBool(eventadmin.PropRemoteEnable, true) {
		p.logger.Debug("Remote delivery disabled for event", "topic", e.Topic)
		return nil, false, nil
	}

	qos := mqtt.QoS(e.Properties.GetInt(eventadmin.PropRemoteQoS, int(defQoS)))
	if !qos.Valid() {
		return nil, false, fmt.Errorf("%w: %s=%s", mqtt.ErrInvalidQoS,
			eventadmin.PropRemoteQoS, e.Properties[eventadmin.PropRemoteQoS])
	}

	payload, err := e.Marshal()
	if err != nil {
		return nil, false, err
	}

	return &mqtt.Request{
		Topic:          e.Topic,
		Payload:        payload,
		QoS:            qos,
		Priority:       parsePriority(e.Properties.Get(eventadmin.PropRemotePriority, ""), p.opts.DefaultPriority),
		ExpiryInterval: e.Properties.GetDuration(eventadmin.PropRemoteExpiryInterval, 0),
	}, true, nil
}

func parsePriority(v string, def mqtt.Priority) mqtt.Priority {
	switch strings.ToLower(v) {
	case "low":
		return mqtt.PriorityLow
	case "middle":
		return mqtt.PriorityMiddle
	case "high":
		return mqtt.PriorityHigh
	default:
		return def
	}
}

// HandleMessage receives inbound messages from the transport. It runs on the
// network goroutine; synchronous events are delivered on their own goroutine.
func (p *Provider) HandleMessage(msg *mqtt.Message) {
	if p.topics.IsControl(msg.Topic) {
		p.handleControl(msg)
		return
	}

	e, err := eventadmin.Unmarshal(msg.Topic, msg.Payload)
	if err != nil {
		p.logger.Error(err, "Failed to decode remote event", "topic", msg.Topic, "sender", msg.SenderUUID)
		if msg.IsSync() {
			p.reply(msg, err)
		}
		return
	}

	if !msg.IsSync() {
		if err := p.deliverer.Post(e); err != nil {
			p.logger.Warn("Failed to post remote event", "topic", msg.Topic, "reason", err.Error())
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.wg.Go(func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.SyncDeliveryTimeout)
		defer cancel()
		p.reply(msg, p.deliverer.Send(ctx, e))
	})
}

func (p *Provider) reply(msg *mqtt.Message, handlerErr error) {
	// The reply is still sent while stopping so the requester is not left waiting.
	if err := p.transport.Reply(context.WithoutCancel(p.ctx), msg, handlerErr); err != nil {
		p.logger.Error(err, "Failed to reply to sync event", "topic", msg.Topic, "sender", msg.SenderUUID)
	}
}

func (p *Provider) handleControl(msg *mqtt.Message) {
	if topic.Match(p.topics.SessionEndWildcard(), msg.Topic) {
		p.logger.Info("Remote provider session ended", "sender", msg.SenderUUID, "topic", msg.Topic)
		return
	}
	p.logger.Debug("Ignoring control message", "topic", msg.Topic)
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
