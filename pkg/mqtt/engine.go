package mqtt

import (
	"context"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Engine is the MQTT v5 connection the client drives. It is satisfied by
// *autopaho.ConnectionManager, which owns the network goroutines and the
// reconnect loop for one set of broker URLs.
type Engine interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Unsubscribe(ctx context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error)
	Disconnect(ctx context.Context) error
}

var _ Engine = (*autopaho.ConnectionManager)(nil)

// EngineFactory starts an engine for the given configuration. The callbacks in
// cfg are how the engine reports connection and inbound message events.
type EngineFactory func(ctx context.Context, cfg autopaho.ClientConfig) (Engine, error)

// NewAutopahoEngine is the default EngineFactory.
func NewAutopahoEngine(ctx context.Context, cfg autopaho.ClientConfig) (Engine, error) {
	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cm, nil
}
