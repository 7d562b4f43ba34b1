package provider

import (
	"github.com/autopeer-io/earpm/internal/discovery"
	"github.com/autopeer-io/earpm/pkg/mqtt"
)

// BrokerFilter selects the endpoints the provider connects to.
const BrokerFilter = discovery.PropAdminType + "=" + discovery.AdminTypeMQTT

var _ discovery.EndpointListener = (*Provider)(nil)

// EndpointAdded registers a discovered broker with the transport.
func (p *Provider) EndpointAdded(ep discovery.Endpoint) {
	info, err := brokerInfo(ep)
	if err != nil {
		p.logger.Error(err, "Failed to convert broker endpoint", "endpointID", ep.ID)
		return
	}
	if err := p.transport.AddBroker(info); err != nil {
		p.logger.Error(err, "Failed to add broker", "endpointID", ep.ID, "host", info.Host, "port", info.Port)
	}
}

// EndpointRemoved withdraws a broker from the transport.
func (p *Provider) EndpointRemoved(ep discovery.Endpoint) {
	p.transport.RemoveBroker(ep.ID)
}

func brokerInfo(ep discovery.Endpoint) (mqtt.BrokerInfo, error) {
	host, err := discovery.ResolveHost(ep)
	if err != nil {
		return mqtt.BrokerInfo{}, err
	}
	port, err := ep.Port()
	if err != nil {
		return mqtt.BrokerInfo{}, err
	}
	return mqtt.BrokerInfo{
		Key:    ep.ID,
		Host:   host,
		Port:   port,
		Scheme: ep.Scheme(),
		Static: ep.Static(),
	}, nil
}
