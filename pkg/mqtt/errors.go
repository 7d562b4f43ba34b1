package mqtt

import "errors"

var (
	// ErrPoolExhausted is returned when no message pool slot is available for the request.
	ErrPoolExhausted = errors.New("mqtt: message pool exhausted")

	// ErrProtocol is returned when the MQTT engine or the broker rejects an operation.
	ErrProtocol = errors.New("mqtt: protocol error")

	// ErrTimeout is returned when a synchronous publish receives no reply in time.
	ErrTimeout = errors.New("mqtt: timed out waiting for reply")

	// ErrClientClosed is returned by operations interrupted or attempted after Close.
	ErrClientClosed = errors.New("mqtt: client closed")

	// ErrNotConnected is returned when an operation needs a broker connection and none exists.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrInvalidTopic is returned for empty topics or misplaced wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidQoS is returned for QoS values outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid qos")

	// ErrInvalidBroker is returned for broker info without a usable address.
	ErrInvalidBroker = errors.New("mqtt: invalid broker info")

	// ErrRemoteHandler is returned by PublishSync when the remote side reported a handler failure.
	ErrRemoteHandler = errors.New("mqtt: remote handler failed")
)
