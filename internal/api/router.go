package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const banner = "Portal Bridge REST API\n"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/", s.handleBanner)
	r.Get("/health", s.handleHealth)
	r.Get("/devices", s.handleListDevices)

	r.Route("/device/{key}", func(r chi.Router) {
		r.Get("/", s.handleGetDevice)
		r.Get("/state", s.handleGetDeviceState)
		r.Get("/history", s.handleGetDeviceHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/toggle", s.handleToggle)
			r.Post("/position", s.handleSetPosition)
			r.Post("/scene", s.handleTriggerScene)
		})
	})

	r.With(s.authMiddleware).Post("/discovery", s.handleTriggerDiscovery)
	r.With(s.authMiddleware).Get("/audit", s.handleListAudit)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleBanner identifies the service.
func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(banner)) //nolint:errcheck // best-effort write
}

// handleHealth returns liveness plus session and registry summaries.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  int64(timeSince(s.started).Seconds()),
		"devices": len(s.control.ListDevices()),
	}
	if s.session != nil {
		body["session"] = s.session.Info()
	}
	if s.discovery != nil {
		body["discovery"] = s.discovery.Status()
	}
	if s.hub != nil {
		body["websocket_clients"] = s.hub.ClientCount()
	}
	if s.inventory != nil {
		body["inventory"] = s.inventory.Stats()
	}
	if s.stale != nil {
		keys, err := s.stale.StaleKeys(r.Context())
		if err != nil {
			s.logger.Warn("listing stale devices", "error", err)
		} else {
			body["stale_devices"] = keys
		}
	}
	writeJSON(w, http.StatusOK, body)
}
