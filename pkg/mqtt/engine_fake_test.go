package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/earpm/pkg/log"
)

// fakeEngine records every call and lets tests decide how publishes complete.
// Like autopaho, it refuses publishes until the connection is up.
type fakeEngine struct {
	mu           sync.Mutex
	live         bool
	publishes    []*paho.Publish
	subscribes   []paho.SubscribeOptions
	unsubscribes []string
	disconnects  int

	publishFn      func(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	subscribeErr   error
	unsubscribeErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (f *fakeEngine) setLive(live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = live
}

func (f *fakeEngine) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	if !f.live {
		f.mu.Unlock()
		return nil, autopaho.ConnectionDownError
	}
	f.publishes = append(f.publishes, p)
	fn := f.publishFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, p)
	}
	return &paho.PublishResponse{}, nil
}

func (f *fakeEngine) Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, s.Subscriptions...)
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return &paho.Suback{Reasons: []byte{s.Subscriptions[0].QoS}}, nil
}

func (f *fakeEngine) Unsubscribe(ctx context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, u.Topics...)
	if f.unsubscribeErr != nil {
		return nil, f.unsubscribeErr
	}
	return &paho.Unsuback{}, nil
}

func (f *fakeEngine) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.live = false
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) setPublishFn(fn func(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishFn = fn
}

func (f *fakeEngine) published() []*paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*paho.Publish(nil), f.publishes...)
}

func (f *fakeEngine) subscribed(topic string) []paho.SubscribeOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []paho.SubscribeOptions
	for _, s := range f.subscribes {
		if topic == "" || s.Topic == topic {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeEngine) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeConn is one engine created by the client together with the config it was given.
type fakeConn struct {
	cfg autopaho.ClientConfig
	eng *fakeEngine
}

func (c *fakeConn) up() {
	c.eng.setLive(true)
	c.cfg.OnConnectionUp(nil, &paho.Connack{})
}

// down reports a lost connection the way autopaho does.
func (c *fakeConn) down() {
	c.eng.setLive(false)
	c.cfg.ClientConfig.OnClientError(errors.New("connection reset"))
}

func (c *fakeConn) receive(p *paho.Publish) {
	for _, fn := range c.cfg.ClientConfig.OnPublishReceived {
		_, _ = fn(paho.PublishReceived{Packet: p})
	}
}

type fakeFactory struct {
	prepare func(*fakeEngine)
	// upEarly reports the connection up before New returns.
	upEarly bool
	conns   chan *fakeConn
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(chan *fakeConn, 16)}
}

func (f *fakeFactory) New(ctx context.Context, cfg autopaho.ClientConfig) (Engine, error) {
	eng := newFakeEngine()
	if f.prepare != nil {
		f.prepare(eng)
	}
	conn := &fakeConn{cfg: cfg, eng: eng}
	if f.upEarly {
		conn.up()
	}
	f.conns <- conn
	return eng, nil
}

func (f *fakeFactory) await(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the client to create an engine")
		return nil
	}
}

func newTestClient(t *testing.T, cfg *ClientConfig, factory *fakeFactory) *Client {
	t.Helper()
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	c, err := NewClient(cfg, WithEngineFactory(factory.New), WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

// connect registers a static broker and reports the connection as up.
func connect(t *testing.T, c *Client, factory *fakeFactory) *fakeConn {
	t.Helper()
	require.NoError(t, c.AddBroker(BrokerInfo{Key: "static", Host: "127.0.0.1", Port: 1883, Static: true}))
	conn := factory.await(t)
	require.Eventually(t, func() bool { return len(c.Stats().ServerURLs) > 0 }, time.Second, 5*time.Millisecond)
	conn.up()
	require.True(t, c.IsConnected())
	return conn
}

func event(topic, sender string) *paho.Publish {
	return &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: []byte(`{}`),
		Properties: &paho.PublishProperties{
			User: paho.UserProperties{
				{Key: PropSenderUUID, Value: sender},
				{Key: PropMsgVersion, Value: MessageVersion},
			},
		},
	}
}
