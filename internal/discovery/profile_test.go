package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/autopeer-io/earpm/pkg/log"
)

func observedLogger() (log.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return log.NewFromZap(zap.New(core)), logs
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    []Listener
	}{
		{
			name:    "empty",
			profile: "# nothing here\n\n",
			want:    nil,
		},
		{
			name:    "default listener",
			profile: "port 1883\nbind_address 10.0.0.1\n",
			want:    []Listener{{Port: 1883, Address: "10.0.0.1", Protocol: ProtocolMQTT}},
		},
		{
			name: "multiple listeners",
			profile: `
# local broker
listener 1883 0.0.0.0
bind_interface eth0

listener 8080
protocol websockets
`,
			want: []Listener{
				{Port: 1883, Address: "0.0.0.0", Interface: "eth0", Protocol: ProtocolMQTT},
				{Port: 8080, Protocol: ProtocolWebsockets},
			},
		},
		{
			name:    "unix socket listener is skipped",
			profile: "listener 0 /run/mosquitto.sock\nlistener 1884 ::\n",
			want:    []Listener{{Port: 1884, Address: "::", Protocol: ProtocolMQTT}},
		},
		{
			name:    "unrelated options are ignored",
			profile: "allow_anonymous true\npersistence false\nlistener 1883\n",
			want:    []Listener{{Port: 1883, Protocol: ProtocolMQTT}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProfile(strings.NewReader(tt.profile), log.NewNopLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProfileSkipsBrokenListeners(t *testing.T) {
	profile := `
listener abc
bind_interface eth0
listener 1883 127.0.0.1
listener 1884
bind_interface
listener 1885
protocol sctp
listener 1886
`
	logger, logs := observedLogger()

	got, err := parseProfile(strings.NewReader(profile), logger)
	require.NoError(t, err)
	assert.Equal(t, []Listener{
		{Port: 1883, Address: "127.0.0.1", Protocol: ProtocolMQTT},
		{Port: 1886, Protocol: ProtocolMQTT},
	}, got)

	assert.Equal(t, 1, logs.FilterMessage("Failed to create broker listener").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to dup bind interface").Len())
	assert.Equal(t, 1, logs.FilterMessage("Unsupported broker listener protocol").Len())
}

func TestListenerEndpoint(t *testing.T) {
	l := Listener{Port: 8080, Address: "0.0.0.0", Interface: "eth0", Protocol: ProtocolWebsockets}
	ep := l.Endpoint("id-1")

	assert.Equal(t, "id-1", ep.ID)
	assert.Equal(t, AdminTypeMQTT, ep.Properties[PropAdminType])
	assert.Equal(t, "0.0.0.0", ep.Address())
	assert.Equal(t, "eth0", ep.Interface())
	assert.Equal(t, "ws", ep.Scheme())
	assert.True(t, ep.Static())

	port, err := ep.Port()
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
}

func TestParseProfileFileNotFound(t *testing.T) {
	_, err := ParseProfileFile(t.TempDir() + "/missing.conf")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestResolveHost(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{name: "concrete address", ep: NewEndpoint("a", "10.1.2.3", 1883), want: "10.1.2.3"},
		{name: "ipv4 wildcard", ep: NewEndpoint("b", "0.0.0.0", 1883), want: "127.0.0.1"},
		{name: "ipv6 wildcard", ep: NewEndpoint("c", "::", 1883), want: "::1"},
		{name: "hostname", ep: NewEndpoint("d", "broker.local", 1883), want: "broker.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveHost(tt.ep)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ep := NewEndpoint("e", "", 1883)
	ep.Properties[PropBrokerIface] = "no-such-interface0"
	_, err := ResolveHost(ep)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
