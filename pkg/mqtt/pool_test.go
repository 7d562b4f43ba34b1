package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePoolLimits(t *testing.T) {
	tests := []struct {
		capacity          int
		low, middle, high int
	}{
		{capacity: 1, low: 1, middle: 1, high: 1},
		{capacity: 2, low: 1, middle: 1, high: 2},
		{capacity: 10, low: 5, middle: 7, high: 10},
		{capacity: 20, low: 10, middle: 14, high: 20},
	}

	for _, tt := range tests {
		p := newMessagePool(tt.capacity)
		assert.Equal(t, tt.low, p.limit(PriorityLow), "low, capacity %d", tt.capacity)
		assert.Equal(t, tt.middle, p.limit(PriorityMiddle), "middle, capacity %d", tt.capacity)
		assert.Equal(t, tt.high, p.limit(PriorityHigh), "high, capacity %d", tt.capacity)
	}
}

func TestMessagePoolAcquireRelease(t *testing.T) {
	p := newMessagePool(2)

	a := newDescriptor(&Request{Topic: "a", Payload: []byte("x")}, kindAsync)
	b := newDescriptor(&Request{Topic: "b"}, kindAsync)
	midA := p.acquire(a)
	midB := p.acquire(b)
	assert.NotEqual(t, midA, midB)
	assert.False(t, p.admit(PriorityHigh))

	assert.True(t, p.release(midA))
	assert.False(t, p.release(midA))
	assert.True(t, p.admit(PriorityHigh))
	assert.Equal(t, 1, p.len())
}

func TestDescriptorOwnsPayload(t *testing.T) {
	payload := []byte("abc")
	props := map[string]string{"k": "v"}
	d := newDescriptor(&Request{Topic: "a", Payload: payload, UserProperties: props}, kindAsync)

	payload[0] = 'x'
	props["k"] = "changed"
	assert.Equal(t, []byte("abc"), d.payload)
	assert.Equal(t, "v", d.userProperties["k"])
}

func TestSubscriptionTable(t *testing.T) {
	tbl := newSubscriptionTable()

	sub, changed := tbl.upsert("a", AtMostOnce)
	require.True(t, changed)
	assert.Equal(t, subscriptionRequested, sub.state)

	_, changed = tbl.upsert("a", AtMostOnce)
	assert.False(t, changed)

	upgraded, changed := tbl.upsert("a", ExactlyOnce)
	require.True(t, changed)
	assert.Equal(t, ExactlyOnce, upgraded.qos)

	// An ack for the superseded request must not activate the entry.
	tbl.markActive("a", sub.mid)
	got, _ := tbl.get("a")
	assert.Equal(t, subscriptionRequested, got.state)
	tbl.markActive("a", upgraded.mid)
	got, _ = tbl.get("a")
	assert.Equal(t, subscriptionActive, got.state)

	tbl.upsert("b", AtLeastOnce)
	tbl.upsert("c", AtLeastOnce)
	require.True(t, tbl.markPendingUnsubscribe("b"))

	var order []string
	for _, s := range tbl.requeue() {
		order = append(order, s.topic)
	}
	assert.Equal(t, []string{"a", "c"}, order)

	// Subscribing again while the unsubscribe is in flight keeps the entry.
	tbl.upsert("b", AtMostOnce)
	tbl.removePending("b")
	_, ok := tbl.get("b")
	assert.True(t, ok)

	tbl.remove("a")
	assert.Equal(t, 2, tbl.len())
	assert.Equal(t, []string{"b", "c"}, tbl.order)
}

func TestBrokerRegistry(t *testing.T) {
	r := newBrokerRegistry()

	assert.True(t, r.put(BrokerInfo{Key: "z-dyn", Host: "10.0.0.3", Port: 1883}))
	assert.True(t, r.put(BrokerInfo{Key: "a-dyn", Host: "10.0.0.2", Port: 1883}))
	assert.True(t, r.put(BrokerInfo{Key: "static", Host: "10.0.0.1", Port: 1883, Static: true}))
	assert.True(t, r.put(BrokerInfo{Key: "dup", Host: "10.0.0.2", Port: 1883}))
	assert.False(t, r.put(BrokerInfo{Key: "dup", Host: "10.0.0.2", Port: 1883}))

	var keys []string
	for _, b := range r.snapshot() {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{"static", "a-dyn", "dup", "z-dyn"}, keys)
	assert.Equal(t, []string{"tcp://10.0.0.1:1883", "tcp://10.0.0.2:1883", "tcp://10.0.0.3:1883"}, urlStrings(r.urls()))

	assert.True(t, r.remove("dup"))
	assert.False(t, r.remove("dup"))
}

func TestBrokerFromURL(t *testing.T) {
	b, err := BrokerFromURL("cfg", "ssl://broker.local:8883")
	require.NoError(t, err)
	assert.Equal(t, BrokerInfo{Key: "cfg", Host: "broker.local", Port: 8883, Scheme: "ssl", Static: true}, b)
	assert.Equal(t, "ssl://broker.local:8883", b.URL().String())

	ipv6 := BrokerInfo{Key: "v6", Host: "fe80::1", Port: 1883}
	assert.Equal(t, "tcp://[fe80::1]:1883", ipv6.URL().String())

	_, err = BrokerFromURL("cfg", "tcp://broker.local")
	assert.ErrorIs(t, err, ErrInvalidBroker)
}

func TestPropertyHelpers(t *testing.T) {
	assert.Nil(t, expirySeconds(0))
	assert.Equal(t, uint32(1), *expirySeconds(10 * time.Millisecond))
	assert.Equal(t, uint32(3), *expirySeconds(3 * time.Second))

	assert.True(t, compatibleVersion("1.0.0"))
	assert.True(t, compatibleVersion("1.7"))
	assert.False(t, compatibleVersion("2.0.0"))
	assert.False(t, compatibleVersion("garbage"))
	assert.False(t, compatibleVersion(""))
}

func (t *subscriptionTable) get(topic string) (subscription, bool) {
	sub, ok := t.entries[topic]
	if !ok {
		return subscription{}, false
	}
	return *sub, true
}
