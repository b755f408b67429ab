package portal

import "errors"

var (
	// ErrUnexpectedStatus is returned for any non-2xx response other than 401.
	ErrUnexpectedStatus = errors.New("portal: unexpected response status")

	// ErrNoSessionID is returned when the login redirect never carried a
	// session id, or carried an empty one.
	ErrNoSessionID = errors.New("portal: no session id after login")

	// ErrInvalidPage is returned for page numbers outside 0..99.
	ErrInvalidPage = errors.New("portal: invalid page number")
)
