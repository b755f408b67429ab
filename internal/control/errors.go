package control

import "errors"

var (
	// ErrValidation is returned for out-of-range arguments.
	ErrValidation = errors.New("control: invalid argument")

	// ErrIncompatible is returned when the operation does not apply to the
	// device type.
	ErrIncompatible = errors.New("control: operation not supported by device type")

	// ErrReadOnly is returned when the device has no usable descriptor for
	// the needed action.
	ErrReadOnly = errors.New("control: device is read-only")

	// ErrDispatch is returned when the portal did not accept a command.
	ErrDispatch = errors.New("control: command dispatch failed")

	// ErrTimeout is wrapped alongside ErrDispatch when the command timeout elapsed.
	ErrTimeout = errors.New("control: command timed out")
)
