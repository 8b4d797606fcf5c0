package observatory

import "errors"

var (
	// ErrNotEnabled is returned when a checked component is not ENABLED.
	ErrNotEnabled = errors.New("observatory: component not enabled")

	// ErrNoHeartbeat is returned when a checked component publishes no heartbeat.
	ErrNoHeartbeat = errors.New("observatory: no heartbeat")

	// ErrUnknownComponent is returned when an operation names a component the
	// group does not have.
	ErrUnknownComponent = errors.New("observatory: unknown component")
)
