package session

import "errors"

var (
	// ErrAuthFailed is returned when a login attempt fails: bad credentials,
	// unreachable portal or browser automation timeout.
	ErrAuthFailed = errors.New("session: authentication failed")

	// ErrSessionExpired is returned by a Portal when the portal rejected the
	// session (HTTP 401). Manager recovers from it once per request.
	ErrSessionExpired = errors.New("session: expired")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: manager closed")
)
