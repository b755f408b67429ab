// Package session owns the authenticated connection to the portal.
//
// The portal hands out an opaque session id after an interactive,
// JavaScript-driven login and revokes it without notice. Manager hides
// that: callers run requests through Execute (or the FetchPage and
// Dispatch helpers) and the manager logs in on first use, detects expiry
// through ErrSessionExpired, re-authenticates once and retries once.
//
// State machine:
//
//	Unauthenticated ──login──▶ Authenticating ──ok──▶ Authenticated
//	       ▲                        │                      │
//	       └────────failure─────────┘◀─────── 401 ─────────┘
//
// Logins are single-flight: concurrent callers that need a session join
// the login already in progress. Each successful login produces a new
// immutable Session with a higher Generation; invalidation only applies to
// the generation a caller actually used, so a stale 401 never discards a
// fresh session.
package session
