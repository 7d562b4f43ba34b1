package discovery

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/autopeer-io/earpm/pkg/log"
)

// DefaultProfilePath is where a broker-hosting node keeps its mosquitto configuration.
const DefaultProfilePath = "/etc/mosquitto/mosquitto.conf"

const (
	ProtocolMQTT       = "mqtt"
	ProtocolWebsockets = "websockets"
)

// Listener is a broker listener declared in a mosquitto profile.
type Listener struct {
	Port      int
	Address   string
	Interface string
	Protocol  string
}

// Scheme returns the URL scheme a client uses to reach the listener.
func (l Listener) Scheme() string {
	if l.Protocol == ProtocolWebsockets {
		return "ws"
	}
	return "tcp"
}

// Endpoint converts the listener into a static endpoint description.
func (l Listener) Endpoint(id string) Endpoint {
	ep := NewEndpoint(id, l.Address, l.Port)
	if l.Interface != "" {
		ep.Properties[PropBrokerIface] = l.Interface
	}
	ep.Properties[PropBrokerScheme] = l.Scheme()
	ep.Properties[PropStatic] = "true"
	return ep
}

// ParseProfile reads listener declarations from a mosquitto configuration.
// A malformed listener is logged and skipped; only read errors are returned.
func ParseProfile(r io.Reader) ([]Listener, error) {
	return parseProfile(r, log.Std())
}

// ParseProfileFile parses the profile at path.
func ParseProfileFile(path string) ([]Listener, error) {
	return parseProfileFile(path, log.Std())
}

func parseProfileFile(path string, logger log.Logger) ([]Listener, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return parseProfile(f, logger)
}

type profileEntry struct {
	Listener
	broken bool
}

type profileParser struct {
	logger log.Logger

	// port/bind_address declare the default listener.
	def       *profileEntry
	listeners []*profileEntry
	current   *profileEntry
}

func parseProfile(r io.Reader, logger log.Logger) ([]Listener, error) {
	p := &profileParser{logger: logger}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		p.handle(lineNo, fields[0], fields[1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read broker profile: %w", err)
	}

	return p.result(), nil
}

func (p *profileParser) handle(lineNo int, key string, args []string) {
	switch key {
	case "listener":
		p.current = p.newListener(lineNo, args)
		p.listeners = append(p.listeners, p.current)
	case "port":
		entry := p.defaultListener()
		port, err := parsePort(args)
		if err != nil {
			p.logger.Error(err, "Failed to create broker listener", "line", lineNo)
			entry.broken = true
			return
		}
		entry.Port = port
	case "bind_address":
		entry := p.defaultListener()
		if len(args) == 0 {
			p.logger.Error(ErrInvalidListener, "Failed to dup bind address", "line", lineNo)
			entry.broken = true
			return
		}
		entry.Address = args[0]
	case "bind_interface":
		entry := p.target()
		if len(args) == 0 || args[0] == "" {
			p.logger.Error(ErrInvalidListener, "Failed to dup bind interface", "line", lineNo)
			entry.broken = true
			return
		}
		entry.Interface = args[0]
	case "protocol":
		entry := p.target()
		if len(args) == 0 {
			return
		}
		switch args[0] {
		case ProtocolMQTT, ProtocolWebsockets:
			entry.Protocol = args[0]
		default:
			p.logger.Warn("Unsupported broker listener protocol", "line", lineNo, "protocol", args[0])
			entry.broken = true
		}
	}
}

func (p *profileParser) newListener(lineNo int, args []string) *profileEntry {
	entry := &profileEntry{Listener: Listener{Protocol: ProtocolMQTT}}
	port, err := parsePort(args)
	if err != nil {
		p.logger.Error(err, "Failed to create broker listener", "line", lineNo)
		entry.broken = true
		return entry
	}
	if port == 0 {
		// Port 0 declares a unix socket listener, unreachable for remote peers.
		p.logger.Debug("Skipping unix socket broker listener", "line", lineNo)
		entry.broken = true
		return entry
	}
	entry.Port = port
	if len(args) > 1 {
		entry.Address = args[1]
	}
	return entry
}

func (p *profileParser) defaultListener() *profileEntry {
	if p.def == nil {
		p.def = &profileEntry{Listener: Listener{Protocol: ProtocolMQTT}}
	}
	return p.def
}

// target is the listener per-listener options apply to.
func (p *profileParser) target() *profileEntry {
	if p.current != nil {
		return p.current
	}
	return p.defaultListener()
}

func (p *profileParser) result() []Listener {
	var out []Listener
	if p.def != nil && !p.def.broken {
		if p.def.Port != 0 {
			out = append(out, p.def.Listener)
		} else if len(p.listeners) == 0 {
			p.logger.Warn("Broker profile has default listener options without a port, skipping")
		}
	}
	for _, entry := range p.listeners {
		if !entry.broken {
			out = append(out, entry.Listener)
		}
	}
	return out
}

func parsePort(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing port", ErrInvalidListener)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidListener, args[0])
	}
	return port, nil
}
