package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device key does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrTypeMismatch is returned when a state variant does not fit the device type.
	ErrTypeMismatch = errors.New("device: state type mismatch")

	// ErrDuplicateKey is returned when a replacement set repeats a key.
	ErrDuplicateKey = errors.New("device: duplicate key")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidState is returned when state values are out of range.
	ErrInvalidState = errors.New("device: invalid state")
)
