package mqtt

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
)

// BrokerInfo is a reachable MQTT broker endpoint.
type BrokerInfo struct {
	// Key identifies the endpoint (profile listener or discovered endpoint id).
	Key  string `json:"key"`
	Host string `json:"host"`
	Port int    `json:"port"`

	// Scheme is one of mqtt, tcp, ssl, tls, ws, wss. Default is tcp.
	Scheme string `json:"scheme,omitempty"`

	// Static endpoints come from configuration and take precedence over
	// dynamically discovered ones.
	Static bool `json:"static"`
}

func (b BrokerInfo) validate() error {
	if b.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidBroker)
	}
	if b.Host == "" {
		return fmt.Errorf("%w: empty host for %q", ErrInvalidBroker, b.Key)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range for %q", ErrInvalidBroker, b.Port, b.Key)
	}
	return nil
}

// URL returns the server URL handed to the engine.
func (b BrokerInfo) URL() *url.URL {
	scheme := b.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
}

// BrokerFromURL builds a static BrokerInfo from a URL such as tcp://host:1883.
func BrokerFromURL(key, raw string) (BrokerInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BrokerInfo{}, fmt.Errorf("%w: %v", ErrInvalidBroker, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return BrokerInfo{}, fmt.Errorf("%w: missing port in %q", ErrInvalidBroker, raw)
	}
	info := BrokerInfo{Key: key, Host: u.Hostname(), Port: port, Scheme: u.Scheme, Static: true}
	return info, info.validate()
}

// brokerRegistry is guarded by Client.mu.
type brokerRegistry struct {
	entries map[string]BrokerInfo
}

func newBrokerRegistry() *brokerRegistry {
	return &brokerRegistry{entries: make(map[string]BrokerInfo)}
}

// put replaces any entry with the same key and reports whether the set changed.
func (r *brokerRegistry) put(info BrokerInfo) bool {
	if old, ok := r.entries[info.Key]; ok && old == info {
		return false
	}
	r.entries[info.Key] = info
	return true
}

func (r *brokerRegistry) remove(key string) bool {
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

func (r *brokerRegistry) len() int {
	return len(r.entries)
}

// snapshot returns a copy ordered by priority: static first, then by key.
func (r *brokerRegistry) snapshot() []BrokerInfo {
	out := make([]BrokerInfo, 0, len(r.entries))
	for _, info := range r.entries {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Static != out[j].Static {
			return out[i].Static
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// urls returns the distinct server URLs in priority order.
func (r *brokerRegistry) urls() []*url.URL {
	snap := r.snapshot()
	seen := make(map[string]struct{}, len(snap))
	out := make([]*url.URL, 0, len(snap))
	for _, info := range snap {
		u := info.URL()
		if _, dup := seen[u.String()]; dup {
			continue
		}
		seen[u.String()] = struct{}{}
		out = append(out, u)
	}
	return out
}
