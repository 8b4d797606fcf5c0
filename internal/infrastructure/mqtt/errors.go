package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnect wraps failures of the initial connection.
	ErrConnect = errors.New("mqtt: connect")

	// ErrPublish wraps broker-side publish failures and timeouts.
	ErrPublish = errors.New("mqtt: publish")

	// ErrSubscribe wraps subscribe and unsubscribe failures.
	ErrSubscribe = errors.New("mqtt: subscribe")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")

	// ErrPayloadTooLarge is returned for payloads over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
