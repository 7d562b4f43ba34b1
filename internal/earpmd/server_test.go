package earpmd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/earpm/internal/discovery"
	"github.com/autopeer-io/earpm/pkg/eventadmin"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
	"github.com/autopeer-io/earpm/pkg/options"
)

// memBroker routes publishes between the engines it created.
type memBroker struct {
	mu      sync.Mutex
	engines []*memEngine
	created chan *memEngine
}

func newMemBroker() *memBroker {
	return &memBroker{created: make(chan *memEngine, 16)}
}

func (b *memBroker) New(_ context.Context, cfg autopaho.ClientConfig) (mqtt.Engine, error) {
	e := &memEngine{
		broker: b,
		cfg:    cfg,
		subs:   make(map[string]bool),
		inbox:  make(chan *paho.Publish, 64),
		done:   make(chan struct{}),
	}
	go e.loop()

	b.mu.Lock()
	b.engines = append(b.engines, e)
	b.mu.Unlock()
	b.created <- e
	return e, nil
}

func (b *memBroker) await(t *testing.T) *memEngine {
	t.Helper()
	select {
	case e := <-b.created:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no engine created")
		return nil
	}
}

func (b *memBroker) route(from *memEngine, p *paho.Publish) {
	b.mu.Lock()
	engines := append([]*memEngine(nil), b.engines...)
	b.mu.Unlock()

	for _, e := range engines {
		if e.matches(from, p.Topic) {
			select {
			case e.inbox <- p:
			case <-e.done:
			}
		}
	}
}

type memEngine struct {
	broker *memBroker
	cfg    autopaho.ClientConfig

	mu   sync.Mutex
	subs map[string]bool // filter -> no local

	inbox    chan *paho.Publish
	done     chan struct{}
	doneOnce sync.Once
}

func (e *memEngine) loop() {
	for {
		select {
		case p := <-e.inbox:
			for _, fn := range e.cfg.ClientConfig.OnPublishReceived {
				_, _ = fn(paho.PublishReceived{Packet: p})
			}
		case <-e.done:
			return
		}
	}
}

func (e *memEngine) matches(from *memEngine, t string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for filter, noLocal := range e.subs {
		if noLocal && e == from {
			continue
		}
		if topic.Match(filter, t) {
			return true
		}
	}
	return false
}

func (e *memEngine) up() {
	e.cfg.OnConnectionUp(nil, &paho.Connack{})
}

func (e *memEngine) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	e.broker.route(e, p)
	return &paho.PublishResponse{}, nil
}

func (e *memEngine) Subscribe(_ context.Context, s *paho.Subscribe) (*paho.Suback, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reasons := make([]byte, 0, len(s.Subscriptions))
	for _, sub := range s.Subscriptions {
		e.subs[sub.Topic] = sub.NoLocal
		reasons = append(reasons, sub.QoS)
	}
	return &paho.Suback{Reasons: reasons}, nil
}

func (e *memEngine) Unsubscribe(_ context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range u.Topics {
		delete(e.subs, t)
	}
	return &paho.Unsuback{}, nil
}

func (e *memEngine) Disconnect(context.Context) error {
	e.doneOnce.Do(func() { close(e.done) })
	return nil
}

func newTestConfig(broker *memBroker, staticBroker string) *Config {
	httpOpts := options.NewHttpOptions()
	httpOpts.Enabled = false
	mqttOpts := options.NewMqttOptions()
	mqttOpts.Broker = staticBroker

	return &Config{
		MqttOptions:      mqttOpts,
		EarpmOptions:     options.NewEarpmOptions(),
		DiscoveryOptions: options.NewDiscoveryOptions(),
		HttpOptions:      httpOpts,
		ClientOptions: []mqtt.Option{
			mqtt.WithEngineFactory(broker.New),
			mqtt.WithLogger(log.NewNopLogger()),
		},
	}
}

func run(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
}

// connect brings the server's engine up once the client installed it.
func connect(t *testing.T, s *Server, broker *memBroker) {
	t.Helper()
	e := broker.await(t)
	require.Eventually(t, func() bool {
		return len(s.Client().Stats().ServerURLs) > 0
	}, 2*time.Second, 5*time.Millisecond)
	e.up()
	require.True(t, s.Client().IsConnected())
}

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) HandleEvent(_ context.Context, e *eventadmin.Event) error {
	r.mu.Lock()
	r.topics = append(r.topics, e.Topic)
	r.mu.Unlock()
	if e.Properties.Get("fail", "") == "true" {
		return errors.New("handler rejected event")
	}
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func TestRemoteEventRoundTrip(t *testing.T) {
	broker := newMemBroker()

	sender, err := newTestConfig(broker, "tcp://memory:1883").NewServer()
	require.NoError(t, err)
	receiver, err := newTestConfig(broker, "tcp://memory:1883").NewServer()
	require.NoError(t, err)

	handler := &recorder{}
	ctx := context.Background()
	require.NoError(t, receiver.RegisterHandler(ctx, "h1", []string{"org/example/*"}, handler))

	run(t, sender)
	connect(t, sender, broker)
	run(t, receiver)
	connect(t, receiver, broker)

	require.NoError(t, sender.PostEvent(ctx, eventadmin.NewEvent("org/example/async", nil)))
	require.Eventually(t, func() bool {
		return len(handler.seen()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sender.SendEvent(ctx, eventadmin.NewEvent("org/example/sync", nil)))
	assert.Equal(t, []string{"org/example/async", "org/example/sync"}, handler.seen())

	err = sender.SendEvent(ctx, eventadmin.NewEvent("org/example/sync", eventadmin.Properties{"fail": "true"}))
	assert.ErrorIs(t, err, mqtt.ErrRemoteHandler)

	require.NoError(t, sender.PostEvent(ctx, eventadmin.NewEvent("org/other", nil)))
	require.NoError(t, sender.PostEvent(ctx, eventadmin.NewEvent("org/example/local",
		eventadmin.Properties{eventadmin.PropRemoteEnable: "false"})))
	require.NoError(t, receiver.UnregisterHandler(ctx, "h1"))
	assert.Len(t, handler.seen(), 3)
}

func TestDiscoveredBrokerReachesClient(t *testing.T) {
	broker := newMemBroker()
	s, err := newTestConfig(broker, "").NewServer()
	require.NoError(t, err)
	run(t, s)

	require.Eventually(t, func() bool {
		return s.Discovery().State() == discovery.StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Discovery().AddEndpoint(discovery.NewEndpoint("dyn-1", "10.0.0.1", 1883)))

	e := broker.await(t)
	require.Len(t, e.cfg.ServerUrls, 1)
	assert.Equal(t, "tcp://10.0.0.1:1883", e.cfg.ServerUrls[0].String())

	brokers := s.Client().Brokers()
	require.Len(t, brokers, 1)
	assert.Equal(t, "dyn-1", brokers[0].Key)
}

func TestNewServerRejectsBadBroker(t *testing.T) {
	_, err := newTestConfig(newMemBroker(), "tcp://:1883").NewServer()
	assert.Error(t, err)
}
