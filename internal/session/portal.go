package session

import "context"

// Credentials are the portal login details.
type Credentials struct {
	Username string
	Password string
}

// Cookie is one cookie captured at login.
type Cookie struct {
	Name  string
	Value string
}

// Artifacts are the opaque results of a login, presented on every request.
type Artifacts struct {
	SessionID string
	Cookies   []Cookie
}

// Portal is the browser-automation and transport capability the manager
// depends on. Fetch and Send must return an error wrapping ErrSessionExpired
// when the portal reports the session as invalid.
type Portal interface {
	// Login performs the interactive login and returns fresh artifacts.
	Login(ctx context.Context, creds Credentials) (Artifacts, error)

	// Fetch returns the raw markup of a device page (1-based).
	Fetch(ctx context.Context, a Artifacts, page int) ([]byte, error)

	// Send posts an opaque command payload.
	Send(ctx context.Context, a Artifacts, payload string) error
}
