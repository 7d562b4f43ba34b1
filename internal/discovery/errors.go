package discovery

import "errors"

var (
	// ErrProfileNotFound is returned when the broker profile file does not exist.
	ErrProfileNotFound = errors.New("discovery: broker profile not found")

	// ErrInvalidListener is returned for a profile listener that cannot be published.
	ErrInvalidListener = errors.New("discovery: invalid broker listener")

	// ErrInvalidEndpoint is returned for endpoint descriptions missing required properties.
	ErrInvalidEndpoint = errors.New("discovery: invalid endpoint")

	// ErrEndpointNotFound is returned when removing an endpoint that is not known.
	ErrEndpointNotFound = errors.New("discovery: endpoint not found")

	// ErrInvalidFilter is returned when a listener scope filter cannot be parsed.
	ErrInvalidFilter = errors.New("discovery: invalid listener filter")

	// ErrStopped is returned by operations on a destroyed discovery component.
	ErrStopped = errors.New("discovery: stopped")
)
