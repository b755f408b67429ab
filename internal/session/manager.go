package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the manager's authentication state.
type State int

// Authentication states.
const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session is one authenticated session. It is never mutated; a
// re-authentication produces a new Session with a higher Generation.
type Session struct {
	Artifacts
	Generation uint64
	CreatedAt  time.Time
}

// Info is a point-in-time view of the manager for health reporting.
type Info struct {
	State        string    `json:"state"`
	Generation   uint64    `json:"generation"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	LastVerified time.Time `json:"last_verified,omitzero"`
	Logins       int64     `json:"logins"`
}

// Options configures a Manager.
type Options struct {
	Credentials Credentials

	// LoginTimeout bounds one login attempt. Defaults to one minute.
	LoginTimeout time.Duration

	Logger Logger
}

const (
	defaultLoginTimeout = time.Minute
	loginFlightKey      = "login"
)

// Manager maintains the single live session for one portal endpoint.
//
// All methods are safe for concurrent use.
type Manager struct {
	portal       Portal
	creds        Credentials
	loginTimeout time.Duration
	logger       Logger
	now          func() time.Time

	mu           sync.RWMutex
	current      *Session
	valid        bool
	lastVerified time.Time
	generation   uint64
	closed       bool

	flight         singleflight.Group
	authenticating atomic.Bool
	logins         atomic.Int64
}

// NewManager creates a manager that authenticates lazily on first use.
func NewManager(portal Portal, opts Options) *Manager {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Manager{
		portal:       portal,
		creds:        opts.Credentials,
		loginTimeout: opts.LoginTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// EnsureAuthenticated returns a valid session, logging in if none is held.
//
// A caller whose ctx ends while waiting receives ctx.Err(); the login itself
// keeps running for the other waiters, bounded by the login timeout.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (Session, error) {
	if s, ok, err := m.validSession(); err != nil || ok {
		return s, err
	}

	ch := m.flight.DoChan(loginFlightKey, func() (any, error) {
		return m.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

func (m *Manager) validSession() (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Session{}, false, ErrClosed
	}
	if m.current != nil && m.valid {
		return *m.current, true, nil
	}
	return Session{}, false, nil
}

// login runs inside the single flight.
func (m *Manager) login(ctx context.Context) (Session, error) {
	// A flight that finished just before this one may already have logged in.
	if s, ok, err := m.validSession(); err != nil || ok {
		return s, err
	}

	m.authenticating.Store(true)
	defer m.authenticating.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	defer cancel()

	m.logins.Add(1)
	start := m.now()
	m.logger.Info("authenticating with portal")

	artifacts, err := m.portal.Login(ctx, m.creds)
	if err != nil {
		m.logger.Warn("portal login failed", "error", err, "duration", m.now().Sub(start))
		return Session{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if artifacts.SessionID == "" {
		return Session{}, fmt.Errorf("%w: portal returned an empty session id", ErrAuthFailed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, ErrClosed
	}
	m.generation++
	s := &Session{
		Artifacts:  artifacts,
		Generation: m.generation,
		CreatedAt:  m.now(),
	}
	m.current = s
	m.valid = true
	m.lastVerified = s.CreatedAt

	m.logger.Info("portal session established",
		"generation", s.Generation,
		"duration", s.CreatedAt.Sub(start),
	)
	return *s, nil
}

// Invalidate marks the session of the given generation as unusable. Older
// generations are ignored so a late 401 cannot discard a newer session.
func (m *Manager) Invalidate(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Generation == generation && m.valid {
		m.valid = false
		m.logger.Warn("portal session invalidated", "generation", generation)
	}
}

// Execute runs fn with the current session's artifacts. If fn fails with
// ErrSessionExpired the session is invalidated, re-established once and fn
// retried once. Any other error is returned unchanged.
func (m *Manager) Execute(ctx context.Context, fn func(ctx context.Context, a Artifacts) error) error {
	s, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, s.Artifacts)
	if err == nil {
		m.markVerified(s.Generation)
		return nil
	}
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}

	m.Invalidate(s.Generation)
	s, err = m.EnsureAuthenticated(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, s.Artifacts)
	if err == nil {
		m.markVerified(s.Generation)
		return nil
	}
	if errors.Is(err, ErrSessionExpired) {
		m.Invalidate(s.Generation)
	}
	return err
}

// FetchPage fetches a device page under the managed session.
func (m *Manager) FetchPage(ctx context.Context, page int) ([]byte, error) {
	var body []byte
	err := m.Execute(ctx, func(ctx context.Context, a Artifacts) error {
		var err error
		body, err = m.portal.Fetch(ctx, a, page)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Dispatch sends a command payload under the managed session.
func (m *Manager) Dispatch(ctx context.Context, payload string) error {
	return m.Execute(ctx, func(ctx context.Context, a Artifacts) error {
		return m.portal.Send(ctx, a, payload)
	})
}

func (m *Manager) markVerified(generation uint64) {
	m.mu.Lock()
	if m.current != nil && m.current.Generation == generation {
		m.lastVerified = m.now()
	}
	m.mu.Unlock()
}

// State reports the current authentication state.
func (m *Manager) State() State {
	if m.authenticating.Load() {
		return Authenticating
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil && m.valid {
		return Authenticated
	}
	return Unauthenticated
}

// Info returns a snapshot for health endpoints. It never includes artifacts.
func (m *Manager) Info() Info {
	info := Info{
		State:  m.State().String(),
		Logins: m.logins.Load(),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil {
		info.Generation = m.current.Generation
		info.CreatedAt = m.current.CreatedAt
		info.LastVerified = m.lastVerified
	}
	return info
}

// Close drops the current session. Subsequent calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.current = nil
	m.valid = false
	m.mu.Unlock()
}
