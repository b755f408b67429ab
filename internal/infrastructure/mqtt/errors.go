package mqtt

import "errors"

// Sentinel errors. Wrapped errors keep the sentinel for errors.Is.
var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned by Connect when the first connection
	// does not complete.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps broker-side publish errors and oversized payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe and unsubscribe errors.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is joined with the operation sentinel when a token does
	// not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
