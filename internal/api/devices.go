package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/portal-bridge/internal/device"
)

// History limits for GET /device/{key}/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// timeSince is replaced in tests.
var timeSince = time.Since

type toggleRequest struct {
	On *bool `json:"on"`
}

type positionRequest struct {
	Position *int `json:"position"`
}

// handleListDevices returns every device in the registry.
// An empty registry means discovery has not completed yet.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.control.ListDevices()
	if len(devices) == 0 {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no devices discovered yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(devices), "devices": devices})
}

// handleGetDevice returns a single device by key.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.control.GetDevice(chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceState returns the cached state of one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	state, err := s.control.GetDeviceState(chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetDeviceHistory returns recorded state changes, newest first.
//
// Query parameters:
//   - limit: number of entries (default 50, max 200)
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := s.control.GetDevice(key); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.GetHistory(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("reading state history", "key", key, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "entries": entries})
}

// handleToggle switches a light, fan, dimmer or scene.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "field 'on' is required")
		return
	}

	state, err := s.control.Toggle(r.Context(), chi.URLParam(r, "key"), *req.On)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleSetPosition moves a window covering.
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Position == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "field 'position' is required")
		return
	}

	state, err := s.control.SetPosition(r.Context(), chi.URLParam(r, "key"), *req.Position)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleTriggerScene fires a scene.
func (s *Server) handleTriggerScene(w http.ResponseWriter, r *http.Request) {
	state, err := s.control.TriggerScene(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleTriggerDiscovery queues a discovery pass.
func (s *Server) handleTriggerDiscovery(w http.ResponseWriter, _ *http.Request) {
	if s.discovery == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "discovery is not running")
		return
	}
	if err := s.discovery.Trigger(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
