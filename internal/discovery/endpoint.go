package discovery

import (
	"fmt"
	"maps"
	"net"
	"strconv"
)

// Endpoint property keys.
const (
	PropAdminType     = "pubsub.admin.type"
	PropEndpointID    = "celix.earpm.endpoint.id"
	PropBrokerAddress = "celix.earpm.broker.address"
	PropBrokerPort    = "celix.earpm.broker.port"
	PropBrokerIface   = "celix.earpm.broker.interface"
	PropBrokerScheme  = "celix.earpm.broker.scheme"
	PropStatic        = "celix.earpm.broker.static"

	// AdminTypeMQTT is the PropAdminType value of MQTT broker endpoints.
	AdminTypeMQTT = "mqtt"
)

// Endpoint describes a reachable MQTT broker.
type Endpoint struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// NewEndpoint builds an MQTT broker endpoint description.
func NewEndpoint(id, address string, port int) Endpoint {
	return Endpoint{
		ID: id,
		Properties: map[string]string{
			PropAdminType:     AdminTypeMQTT,
			PropEndpointID:    id,
			PropBrokerAddress: address,
			PropBrokerPort:    strconv.Itoa(port),
		},
	}
}

func (e Endpoint) copy() Endpoint {
	return Endpoint{ID: e.ID, Properties: maps.Clone(e.Properties)}
}

// Address returns the broker address, which may be empty or a wildcard when
// only a bind interface is known.
func (e Endpoint) Address() string {
	return e.Properties[PropBrokerAddress]
}

func (e Endpoint) Interface() string {
	return e.Properties[PropBrokerIface]
}

func (e Endpoint) Port() (int, error) {
	port, err := strconv.Atoi(e.Properties[PropBrokerPort])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, e.Properties[PropBrokerPort])
	}
	return port, nil
}

func (e Endpoint) Scheme() string {
	return e.Properties[PropBrokerScheme]
}

func (e Endpoint) Static() bool {
	return e.Properties[PropStatic] == "true"
}

func (e Endpoint) validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEndpoint)
	}
	if e.Properties[PropAdminType] == "" {
		return fmt.Errorf("%w: %s has no %s", ErrInvalidEndpoint, e.ID, PropAdminType)
	}
	if e.Address() == "" && e.Interface() == "" {
		return fmt.Errorf("%w: %s has neither address nor interface", ErrInvalidEndpoint, e.ID)
	}
	if _, err := e.Port(); err != nil {
		return err
	}
	return nil
}

// ResolveHost returns a host a client can dial. A wildcard or empty address
// is resolved through the bind interface, falling back to loopback.
func ResolveHost(e Endpoint) (string, error) {
	addr := e.Address()
	if addr != "" && !isWildcard(addr) {
		return addr, nil
	}

	if iface := e.Interface(); iface != "" {
		ifc, err := net.InterfaceByName(iface)
		if err != nil {
			return "", fmt.Errorf("%w: interface %q: %w", ErrInvalidEndpoint, iface, err)
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			return "", fmt.Errorf("%w: interface %q: %w", ErrInvalidEndpoint, iface, err)
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLinkLocalUnicast() {
				return ipnet.IP.String(), nil
			}
		}
		return "", fmt.Errorf("%w: interface %q has no usable address", ErrInvalidEndpoint, iface)
	}

	if addr == "::" {
		return "::1", nil
	}
	return "127.0.0.1", nil
}

func isWildcard(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsUnspecified()
}
