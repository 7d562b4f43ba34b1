package eventadmin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMarshal(t *testing.T) {
	e := NewEvent("org/example/Event", Properties{"b": "2", "a": "1"})

	payload, err := e.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, string(payload))

	decoded, err := Unmarshal("org/example/Event", payload)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)

	empty, err := Unmarshal("t", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Properties)

	null, err := Unmarshal("t", []byte("null"))
	require.NoError(t, err)
	require.NotNil(t, null.Properties)
	null.Properties.Set("k", "v")
	assert.Equal(t, "v", null.Properties.Get("k", ""))

	_, err = Unmarshal("t", []byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = (&Event{}).Marshal()
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNewEventCopiesProperties(t *testing.T) {
	props := Properties{"k": "v"}
	e := NewEvent("t", props)
	props["k"] = "changed"
	assert.Equal(t, "v", e.Properties.Get("k", ""))
}

func TestPropertiesGetters(t *testing.T) {
	p := Properties{
		PropRemoteQoS:            "1",
		PropRemoteEnable:         "false",
		PropRemoteExpiryInterval: "1.5",
		"bad":                    "x",
	}

	assert.Equal(t, 1, p.GetInt(PropRemoteQoS, 0))
	assert.Equal(t, 7, p.GetInt("bad", 7))
	assert.False(t, p.GetBool(PropRemoteEnable, true))
	assert.True(t, p.GetBool("missing", true))
	assert.Equal(t, 1500*time.Millisecond, p.GetDuration(PropRemoteExpiryInterval, 0))
	assert.Equal(t, time.Second, p.GetDuration("bad", time.Second))
	for _, v := range []string{"1e20", "-1", "NaN", "+Inf"} {
		q := Properties{PropRemoteExpiryInterval: v}
		assert.Equal(t, time.Second, q.GetDuration(PropRemoteExpiryInterval, time.Second), v)
	}
	assert.Equal(t, []string{"bad", PropRemoteEnable, PropRemoteExpiryInterval, PropRemoteQoS}, p.Keys())
}

func TestLocalEventAdmin(t *testing.T) {
	a := NewLocalEventAdmin()
	var got []string
	record := func(name string) Handler {
		return HandlerFunc(func(ctx context.Context, e *Event) error {
			got = append(got, name+":"+e.Topic)
			return nil
		})
	}

	require.NoError(t, a.Register("exact", []string{"org/example/A"}, record("exact")))
	require.NoError(t, a.Register("prefix", []string{"org/example/*"}, record("prefix")))
	require.Error(t, a.Register("bad", []string{"org/*/A"}, record("bad")))

	require.NoError(t, a.SendEvent(context.Background(), NewEvent("org/example/B", nil)))
	assert.Equal(t, []string{"prefix:org/example/B"}, got)

	assert.ErrorIs(t, a.PostEvent(NewEvent("other/topic", nil)), ErrNoHandler)

	failing := errors.New("handler failed")
	a.Unregister("prefix")
	require.NoError(t, a.Register("prefix", []string{"*"}, HandlerFunc(func(context.Context, *Event) error { return failing })))
	assert.ErrorIs(t, a.SendEvent(context.Background(), NewEvent("other/topic", nil)), failing)
}

func TestLocalEventAdminHandlersGetCopies(t *testing.T) {
	a := NewLocalEventAdmin()
	var seen []string
	mutate := HandlerFunc(func(ctx context.Context, e *Event) error {
		seen = append(seen, e.Properties.Get("k", ""))
		e.Properties.Set("k", "changed")
		return nil
	})
	require.NoError(t, a.Register("first", []string{"t"}, mutate))
	require.NoError(t, a.Register("second", []string{"t"}, mutate))

	e := NewEvent("t", Properties{"k": "v"})
	require.NoError(t, a.SendEvent(context.Background(), e))
	assert.Equal(t, []string{"v", "v"}, seen)
	assert.Equal(t, "v", e.Properties.Get("k", ""))
}
