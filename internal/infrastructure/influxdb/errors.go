package influxdb

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned by Connect when the ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps async batch errors passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
