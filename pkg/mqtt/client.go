package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/earpm/internal/pkg/metrics"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

// Client is an MQTT v5 client for the remote event provider. It keeps its own
// subscription table and broker registry, reconnects whenever the registry
// changes, bounds the number of in-flight messages and correlates
// synchronous publishes with their replies.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg           *ClientConfig
	logger        log.Logger
	newEngine     EngineFactory
	topics        *topic.TopicBuilder
	responseTopic string

	// mu guards everything below it.
	mu          sync.Mutex
	pool        *messagePool
	poolChanged chan struct{}
	pending     map[string]chan replyResult
	subs        *subscriptionTable
	brokers     *brokerRegistry
	engine      Engine
	engineURLs  []string
	generation  uint64
	earlyUp     uint64
	connected   bool
	connUp      chan struct{}
	started     bool
	closed      bool

	brokersChanged chan struct{}
	closing        chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	firstSend      sync.Once
}

type replyResult struct {
	err error
}

// Option customizes a Client.
type Option func(*Client)

// WithEngineFactory replaces the autopaho engine, mostly for tests.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *Client) {
		c.newEngine = f
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(l log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client. No connection is attempted until Start is
// called and at least one broker is known.
func NewClient(cfg *ClientConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:            cfg,
		logger:         log.WithName("mqtt"),
		newEngine:      NewAutopahoEngine,
		topics:         topic.NewTopicBuilder(cfg.TopicRoot),
		pool:           newMessagePool(cfg.ParallelMsgCapacity),
		poolChanged:    make(chan struct{}),
		pending:        make(map[string]chan replyResult),
		subs:           newSubscriptionTable(),
		brokers:        newBrokerRegistry(),
		connUp:         make(chan struct{}),
		brokersChanged: make(chan struct{}, 1),
		closing:        make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Replies to our own synchronous publishes arrive here. It is tracked like
	// any other subscription so it is reissued after every reconnect.
	c.responseTopic = c.topics.SyncAck(cfg.SenderUUID)
	c.subs.upsert(c.responseTopic, AtLeastOnce)

	return c, nil
}

// Start launches the connection goroutine. It returns immediately; use
// AwaitConnection to wait for a broker. Cancelling ctx stops reconnecting
// but Close must still be called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	hasBrokers := c.brokers.len() > 0
	c.wg.Add(1)
	c.mu.Unlock()

	context.AfterFunc(ctx, c.cancel)

	c.logger.Info("Starting MQTT client", "clientID", c.cfg.ClientID, "senderUUID", c.cfg.SenderUUID,
		"capacity", c.cfg.ParallelMsgCapacity)

	go c.run()
	if hasBrokers {
		c.signalBrokersChanged()
	}
	return nil
}

// Close disconnects from the broker, wakes every blocked PublishSync and
// AwaitConnection call with ErrClientClosed and waits for in-flight
// publishes to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closing)
	eng := c.engine
	c.engine = nil
	c.engineURLs = nil
	c.generation++
	c.setConnectedLocked(false)
	c.mu.Unlock()

	c.cancel()
	if eng != nil {
		c.disconnectEngine(eng)
	}
	c.wg.Wait()

	c.mu.Lock()
	c.pool.clear()
	c.subs.clear()
	clear(c.pending)
	metrics.MessagesInflight.Set(0)
	metrics.Subscriptions.Set(0)
	c.mu.Unlock()

	c.logger.Info("MQTT client closed")
}

// SenderUUID identifies this client in outbound messages.
func (c *Client) SenderUUID() string {
	return c.cfg.SenderUUID
}

// ResponseTopic is where replies to this client's synchronous publishes arrive.
func (c *Client) ResponseTopic() string {
	return c.responseTopic
}

// IsConnected returns true if the client is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// AwaitConnection blocks until the client is connected to a broker.
func (c *Client) AwaitConnection(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	up := c.connUp
	c.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closing:
		return ErrClientClosed
	}
}

// Stats is a point-in-time view of the client state.
type Stats struct {
	Connected     bool     `json:"connected"`
	Inflight      int      `json:"inflight"`
	Capacity      int      `json:"capacity"`
	Subscriptions int      `json:"subscriptions"`
	Brokers       int      `json:"brokers"`
	ServerURLs    []string `json:"serverUrls,omitempty"`
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:     c.connected,
		Inflight:      c.pool.len(),
		Capacity:      c.pool.capacity,
		Subscriptions: c.subs.len(),
		Brokers:       c.brokers.len(),
		ServerURLs:    slices.Clone(c.engineURLs),
	}
}

// --- Broker registry ---

// AddBroker adds or replaces the broker with the same key and reconnects if
// the ordered broker list changed.
func (c *Client) AddBroker(info BrokerInfo) error {
	if err := info.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	changed := c.brokers.put(info)
	metrics.BrokersKnown.Set(float64(c.brokers.len()))
	c.mu.Unlock()

	if changed {
		c.logger.Info("Broker info added", "key", info.Key, "url", info.URL().String(), "static", info.Static)
		c.signalBrokersChanged()
	}
	return nil
}

// RemoveBroker forgets the broker with the given key.
func (c *Client) RemoveBroker(key string) {
	c.mu.Lock()
	changed := c.brokers.remove(key)
	metrics.BrokersKnown.Set(float64(c.brokers.len()))
	c.mu.Unlock()

	if changed {
		c.logger.Info("Broker info removed", "key", key)
		c.signalBrokersChanged()
	}
}

// Brokers returns the known brokers, highest priority first.
func (c *Client) Brokers() []BrokerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brokers.snapshot()
}

func (c *Client) signalBrokersChanged() {
	select {
	case c.brokersChanged <- struct{}{}:
	default:
	}
}

// --- Subscriptions ---

// Subscribe records the subscription and, when connected, sends it to the
// broker. An unknown topic or a QoS upgrade issues a wire SUBSCRIBE; an
// equal or lower QoS is a no-op. A wire failure returns ErrProtocol and
// leaves the subscription to be retried on the next reconnect.
func (c *Client) Subscribe(ctx context.Context, filter string, qos QoS) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidTopic, filter, err)
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	sub, changed := c.subs.upsert(filter, qos)
	metrics.Subscriptions.Set(float64(c.subs.len()))
	eng, connected := c.engine, c.connected
	c.mu.Unlock()

	if !changed {
		return nil
	}
	if !connected || eng == nil {
		c.logger.Debug("Subscription queued until connected", "topic", filter, "qos", qos.String())
		return nil
	}
	return c.sendSubscribe(ctx, eng, sub)
}

// Unsubscribe removes the subscription. The local entry is always removed,
// even when the broker cannot be reached.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	c.mu.Lock()
	if filter == c.responseTopic {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q is reserved for sync replies", ErrInvalidTopic, filter)
	}
	if !c.subs.markPendingUnsubscribe(filter) {
		c.mu.Unlock()
		return nil
	}
	eng, connected := c.engine, c.connected
	c.mu.Unlock()

	if connected && eng != nil {
		if _, err := eng.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}}); err != nil {
			c.logger.Error(err, "Failed to unsubscribe topic, removing it locally", "topic", filter)
		}
	}

	c.mu.Lock()
	c.subs.removePending(filter)
	metrics.Subscriptions.Set(float64(c.subs.len()))
	c.mu.Unlock()

	c.logger.Debug("Unsubscribed from topic", "topic", filter)
	return nil
}

func (c *Client) sendSubscribe(ctx context.Context, eng Engine, sub subscription) error {
	suback, err := eng.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: sub.topic, QoS: byte(sub.qos), NoLocal: true},
		},
	})
	if err == nil && suback != nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		err = fmt.Errorf("reason code 0x%02x", suback.Reasons[0])
	}
	if err != nil {
		c.logger.Error(err, "Failed to subscribe topic", "topic", sub.topic, "qos", sub.qos.String())
		return fmt.Errorf("%w: subscribe %q: %w", ErrProtocol, sub.topic, err)
	}

	c.mu.Lock()
	c.subs.markActive(sub.topic, sub.mid)
	c.mu.Unlock()

	c.logger.Debug("Subscribed to topic", "topic", sub.topic, "qos", sub.qos.String())
	return nil
}

// --- Connection management ---

// run owns the engine lifecycle. It is the only goroutine that replaces c.engine.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.brokersChanged:
			c.reconnect()
		}
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	urls := c.brokers.urls()
	wanted := urlStrings(urls)
	if c.engine != nil && slices.Equal(wanted, c.engineURLs) {
		c.mu.Unlock()
		return
	}
	old := c.engine
	c.engine = nil
	c.engineURLs = nil
	c.generation++
	gen := c.generation
	c.setConnectedLocked(false)
	c.mu.Unlock()

	if old != nil {
		c.logger.Info("Broker list changed, dropping current connection")
		c.disconnectEngine(old)
	}
	if len(urls) == 0 {
		c.logger.Info("No broker available, waiting for broker info")
		return
	}

	eng, err := c.newEngine(c.ctx, c.engineConfig(gen, urls))
	if err != nil {
		c.logger.Error(err, "Failed to create MQTT connection", "brokers", wanted)
		return
	}

	c.mu.Lock()
	if c.closed || c.generation != gen {
		c.mu.Unlock()
		c.disconnectEngine(eng)
		return
	}
	c.engine = eng
	c.engineURLs = wanted
	replayUp := c.earlyUp == gen
	c.earlyUp = 0
	c.mu.Unlock()

	c.logger.Info("Connecting to MQTT broker", "brokers", wanted, "clientID", c.cfg.ClientID)
	if replayUp {
		c.onConnectionUp(gen, nil, nil)
	}
}

func (c *Client) disconnectEngine(eng Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if err := eng.Disconnect(ctx); err != nil {
		c.logger.Debug("MQTT disconnect returned error", "error", err)
	}
}

func (c *Client) engineConfig(gen uint64, urls []*url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    urls,
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectBackoff),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage:    c.willMessage(),
		WillProperties: c.willProperties(),
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnClientError: func(err error) {
				c.onClientError(gen, err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.onServerDisconnect(gen, d)
			},
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, ack *paho.Connack) {
			c.onConnectionUp(gen, cm, ack)
		},
		OnConnectError: c.onConnectError,
	}

	if c.cfg.Password != "" {
		cfg.ConnectPassword = []byte(c.cfg.Password)
	}

	if c.cfg.Debug {
		cfg.Debug = log.NewPahoDebugLogger(c.logger.WithName("autopaho"))
		cfg.PahoDebug = log.NewPahoDebugLogger(c.logger.WithName("paho"))
	}

	return cfg
}

func (c *Client) willMessage() *paho.WillMessage {
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     byte(c.cfg.WillQoS),
		Retain:  false,
	}
}

func (c *Client) willProperties() *paho.WillProperties {
	delay := c.cfg.WillDelay
	return &paho.WillProperties{
		WillDelayInterval: &delay,
		User:              c.identityProperties(),
	}
}

// onConnectionUp reissues every tracked subscription in insertion order.
// cm is nil when the engine is not autopaho.
//
// The engine may report the connection before its factory has returned. An
// autopaho engine is adopted from cm; any other engine gets the call
// replayed by reconnect once it is stored.
func (c *Client) onConnectionUp(gen uint64, cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.engine == nil {
		if cm == nil {
			c.earlyUp = gen
			c.mu.Unlock()
			return
		}
		c.engine = cm
	}
	c.setConnectedLocked(true)
	subs := c.subs.requeue()
	eng := c.engine
	c.mu.Unlock()

	c.logger.Info("MQTT connection established", "subscriptions", len(subs))

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
		_ = c.sendSubscribe(ctx, eng, sub)
		cancel()
	}
}

func (c *Client) onConnectError(err error) {
	c.logger.Error(err, "MQTT connection failed, retrying")
}

func (c *Client) onClientError(gen uint64, err error) {
	c.logger.Error(err, "MQTT client error")
	c.markDown(gen)
}

func (c *Client) onServerDisconnect(gen uint64, d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", "code", d.ReasonCode, "reason", reason)
	c.markDown(gen)
}

func (c *Client) markDown(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation {
		c.earlyUp = 0
		c.setConnectedLocked(false)
	}
}

func (c *Client) setConnectedLocked(up bool) {
	if c.connected == up {
		return
	}
	c.connected = up
	if up {
		close(c.connUp)
		metrics.BrokerConnected.Set(1)
		return
	}
	c.connUp = make(chan struct{})
	metrics.BrokerConnected.Set(0)
}

func urlStrings(urls []*url.URL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.String())
	}
	return out
}
