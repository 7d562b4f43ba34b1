package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/earpm/pkg/log"
)

type recordingListener struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (r *recordingListener) EndpointAdded(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, ep.ID)
}

func (r *recordingListener) EndpointRemoved(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ep.ID)
}

func (r *recordingListener) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.added...), append([]string(nil), r.removed...)
}

func newTestDiscovery(opts Options) *Discovery {
	opts.Logger = log.NewNopLogger()
	return New(opts)
}

func TestAddListenerReplaysExistingEndpoints(t *testing.T) {
	d := newTestDiscovery(Options{})
	require.NoError(t, d.AddEndpoint(NewEndpoint("b", "10.0.0.2", 1883)))
	require.NoError(t, d.AddEndpoint(NewEndpoint("a", "10.0.0.1", 1883)))

	l := &recordingListener{}
	_, err := d.AddListener("pubsub.admin.type=mqtt", l)
	require.NoError(t, err)

	added, removed := l.snapshot()
	assert.Equal(t, []string{"a", "b"}, added)
	assert.Empty(t, removed)

	require.NoError(t, d.AddEndpoint(NewEndpoint("c", "10.0.0.3", 1883)))
	added, _ = l.snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, added, "each endpoint is announced exactly once")
}

func TestListenerFilter(t *testing.T) {
	d := newTestDiscovery(Options{})

	mqttOnly := &recordingListener{}
	_, err := d.AddListener("pubsub.admin.type=mqtt", mqttOnly)
	require.NoError(t, err)
	everything := &recordingListener{}
	_, err = d.AddListener("", everything)
	require.NoError(t, err)

	other := NewEndpoint("zmq-1", "10.0.0.9", 5555)
	other.Properties[PropAdminType] = "zmq"
	require.NoError(t, d.AddEndpoint(other))
	require.NoError(t, d.AddEndpoint(NewEndpoint("mqtt-1", "10.0.0.1", 1883)))

	added, _ := mqttOnly.snapshot()
	assert.Equal(t, []string{"mqtt-1"}, added)
	added, _ = everything.snapshot()
	assert.Equal(t, []string{"zmq-1", "mqtt-1"}, added)

	_, err = d.AddListener("pubsub.admin.type in (", &recordingListener{})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestAddEndpointReplaces(t *testing.T) {
	d := newTestDiscovery(Options{})
	l := &recordingListener{}
	_, err := d.AddListener("", l)
	require.NoError(t, err)

	require.NoError(t, d.AddEndpoint(NewEndpoint("a", "10.0.0.1", 1883)))
	require.NoError(t, d.AddEndpoint(NewEndpoint("a", "10.0.0.2", 1883)))

	added, removed := l.snapshot()
	assert.Equal(t, []string{"a", "a"}, added)
	assert.Equal(t, []string{"a"}, removed)

	eps := d.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, "10.0.0.2", eps[0].Address())
}

func TestRemoveEndpoint(t *testing.T) {
	d := newTestDiscovery(Options{})
	l := &recordingListener{}
	id, err := d.AddListener("", l)
	require.NoError(t, err)

	require.NoError(t, d.AddEndpoint(NewEndpoint("a", "10.0.0.1", 1883)))
	require.NoError(t, d.RemoveEndpoint("a"))
	assert.ErrorIs(t, d.RemoveEndpoint("a"), ErrEndpointNotFound)

	_, removed := l.snapshot()
	assert.Equal(t, []string{"a"}, removed)

	d.RemoveListener(id)
	require.NoError(t, d.AddEndpoint(NewEndpoint("b", "10.0.0.2", 1883)))
	added, _ := l.snapshot()
	assert.Equal(t, []string{"a"}, added)
}

func TestAddEndpointValidation(t *testing.T) {
	d := newTestDiscovery(Options{})

	tests := []struct {
		name string
		ep   Endpoint
	}{
		{name: "empty id", ep: NewEndpoint("", "10.0.0.1", 1883)},
		{name: "no address", ep: NewEndpoint("a", "", 1883)},
		{name: "bad port", ep: NewEndpoint("a", "10.0.0.1", 70000)},
		{name: "no admin type", ep: Endpoint{ID: "a", Properties: map[string]string{PropBrokerAddress: "x", PropBrokerPort: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, d.AddEndpoint(tt.ep), ErrInvalidEndpoint)
		})
	}
	assert.Empty(t, d.Endpoints())
}

func TestEndpointsAreCopies(t *testing.T) {
	d := newTestDiscovery(Options{})
	ep := NewEndpoint("a", "10.0.0.1", 1883)
	require.NoError(t, d.AddEndpoint(ep))

	ep.Properties[PropBrokerAddress] = "changed"
	eps := d.Endpoints()
	eps[0].Properties[PropBrokerPort] = "1"

	eps = d.Endpoints()
	assert.Equal(t, "10.0.0.1", eps[0].Address())
	assert.Equal(t, "1883", eps[0].Properties[PropBrokerPort])
}

func writeProfile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestLifecycleLoadsProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	writeProfile(t, path, "listener 1883 127.0.0.1\nlistener 1884 127.0.0.1\n")

	d := newTestDiscovery(Options{LoadProfile: true, ProfilePath: path})
	assert.Equal(t, StateCreated, d.State())

	l := &recordingListener{}
	_, err := d.AddListener("celix.earpm.broker.static=true", l)
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()), "start is idempotent while running")
	assert.Equal(t, StateRunning, d.State())

	require.Eventually(t, func() bool {
		added, _ := l.snapshot()
		return len(added) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.AddEndpoint(NewEndpoint("dynamic", "10.0.0.1", 1883)))

	require.NoError(t, d.Stop())
	assert.Equal(t, StateDestroyed, d.State())

	_, removed := l.snapshot()
	assert.Len(t, removed, 2, "profile endpoints are withdrawn on stop")

	eps := d.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, "dynamic", eps[0].ID)

	assert.ErrorIs(t, d.AddEndpoint(NewEndpoint("late", "10.0.0.1", 1883)), ErrStopped)
	assert.ErrorIs(t, d.RemoveEndpoint("dynamic"), ErrStopped)
	_, err = d.AddListener("", l)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, d.Start(context.Background()), ErrStopped)
	assert.NoError(t, d.Stop())
}

func TestLifecycleWaitsForProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosquitto.conf")

	d := newTestDiscovery(Options{LoadProfile: true, ProfilePath: path, WaitForProfile: true})
	l := &recordingListener{}
	_, err := d.AddListener("", l)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	// Give the loader time to find the profile missing and start watching.
	time.Sleep(50 * time.Millisecond)
	writeProfile(t, path, "listener 1883\n")

	require.Eventually(t, func() bool {
		added, _ := l.snapshot()
		return len(added) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopCancelsProfileWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosquitto.conf")

	d := newTestDiscovery(Options{LoadProfile: true, ProfilePath: path, WaitForProfile: true})
	require.NoError(t, d.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- d.Stop() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the profile watcher")
	}
}

func TestMissingProfileWithoutWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosquitto.conf")

	d := newTestDiscovery(Options{LoadProfile: true, ProfilePath: path})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())
	assert.Empty(t, d.Endpoints())
}
