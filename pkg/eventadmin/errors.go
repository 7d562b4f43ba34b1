package eventadmin

import "errors"

var (
	// ErrQueueFull is returned when the deliverer queue has no room for another event.
	ErrQueueFull = errors.New("eventadmin: delivery queue full")

	// ErrDelivererStopped is returned for events posted to, or still queued in, a stopped deliverer.
	ErrDelivererStopped = errors.New("eventadmin: deliverer stopped")

	// ErrNoHandler is returned by an EventAdmin when no local handler matches the event.
	ErrNoHandler = errors.New("eventadmin: no handler for event")

	// ErrInvalidEvent is returned for events without a topic or with an undecodable payload.
	ErrInvalidEvent = errors.New("eventadmin: invalid event")
)
