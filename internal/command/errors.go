package command

import "errors"

var (
	// ErrUnsupportedAction is returned when a device has no payload for an action.
	ErrUnsupportedAction = errors.New("command: unsupported action")

	// ErrReadOnly is returned when a device's payload is the READONLY marker.
	ErrReadOnly = errors.New("command: device is read-only")
)
