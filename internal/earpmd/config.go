package earpmd

import (
	"fmt"

	"github.com/autopeer-io/earpm/internal/discovery"
	"github.com/autopeer-io/earpm/internal/provider"
	"github.com/autopeer-io/earpm/internal/server/http"
	"github.com/autopeer-io/earpm/pkg/eventadmin"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/options"
)

// StaticBrokerKey is the broker registry key of the --mqtt.broker URL.
const StaticBrokerKey = "static"

type Config struct {
	MqttOptions      *options.MqttOptions
	EarpmOptions     *options.EarpmOptions
	DiscoveryOptions *options.DiscoveryOptions
	HttpOptions      *options.HttpOptions

	// ClientOptions are passed to the MQTT client.
	ClientOptions []mqtt.Option
}

// NewServer wires the local event admin, the deliverer, the MQTT client, the
// remote provider and discovery together.
func (cfg *Config) NewServer() (*Server, error) {
	local := eventadmin.NewLocalEventAdmin()
	deliverer := eventadmin.NewDeliverer(local, eventadmin.DelivererOptions{
		QueueSize: cfg.EarpmOptions.DelivererQueueSize,
	})

	// Inbound messages only flow after the client started, by which time
	// prov is set.
	var prov *provider.Provider
	mqttConfig := cfg.MqttOptions.ToClientConfig(cfg.EarpmOptions)
	mqttConfig.OnMessage = func(msg *mqtt.Message) {
		prov.HandleMessage(msg)
	}

	client, err := mqtt.NewClient(mqttConfig, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	if cfg.MqttOptions.Broker != "" {
		info, err := mqtt.BrokerFromURL(StaticBrokerKey, cfg.MqttOptions.Broker)
		if err != nil {
			return nil, err
		}
		if err := client.AddBroker(info); err != nil {
			return nil, err
		}
	}

	provOpts := provider.NewOptions()
	provOpts.TopicRoot = cfg.MqttOptions.TopicRoot
	provOpts.SubscribeQoS = mqtt.QoS(cfg.EarpmOptions.SubscribeQoS)
	provOpts.SyncDeliveryTimeout = cfg.EarpmOptions.SyncDeliveryTimeout
	prov = provider.New(client, deliverer, provOpts)

	disc := discovery.New(cfg.DiscoveryOptions.ToDiscoveryOptions())

	s := &Server{
		local:     local,
		deliverer: deliverer,
		client:    client,
		provider:  prov,
		discovery: disc,
		logTopics: cfg.EarpmOptions.LogTopics,
	}
	if cfg.HttpOptions != nil && cfg.HttpOptions.Enabled {
		s.http = http.NewServer(cfg.HttpOptions, client, disc)
	}

	log.Info("earpmd configured", "senderUUID", client.SenderUUID(), "responseTopic", client.ResponseTopic())
	return s, nil
}
