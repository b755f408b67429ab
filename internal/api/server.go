package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/portal-bridge/internal/audit"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/discovery"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/portal-bridge/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the control plane as used by the handlers.
// *control.Plane implements it.
type Controller interface {
	ListDevices() []device.Device
	GetDevice(key string) (*device.Device, error)
	GetDeviceState(key string) (device.State, error)
	Toggle(ctx context.Context, key string, on bool) (device.State, error)
	SetPosition(ctx context.Context, key string, pct int) (device.State, error)
	TriggerScene(ctx context.Context, key string) (device.State, error)
}

// DiscoveryTrigger starts a discovery pass on demand.
// *discovery.Scheduler implements it.
type DiscoveryTrigger interface {
	Trigger() error
	Status() discovery.Status
}

// SessionStatus reports portal session health.
// *session.Manager implements it.
type SessionStatus interface {
	Info() session.Info
}

// Inventory summarizes the device set. *device.Registry implements it.
type Inventory interface {
	Stats() device.Stats
}

// StaleLister lists devices that dropped out of discovery.
// *device.SQLiteRepository implements it.
type StaleLister interface {
	StaleKeys(ctx context.Context) ([]string, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Control  Controller

	// Optional.
	History   device.StateHistoryRepository
	Audit     audit.Repository
	Discovery DiscoveryTrigger
	Session   SessionStatus
	Inventory Inventory
	Stale     StaleLister

	// Hub, if set, is used instead of creating one. It must be registered
	// as a registry observer by the caller.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for Portal Bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	control   Controller
	history   device.StateHistoryRepository
	audit     audit.Repository
	discovery DiscoveryTrigger
	session   SessionStatus
	inventory Inventory
	stale     StaleLister
	version   string
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
	started   time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control plane is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		control:   deps.Control,
		history:   deps.History,
		audit:     deps.Audit,
		discovery: deps.Discovery,
		session:   deps.Session,
		inventory: deps.Inventory,
		stale:     deps.Stale,
		version:   deps.Version,
		hub:       deps.Hub,
		started:   time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for registering it as a registry observer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
