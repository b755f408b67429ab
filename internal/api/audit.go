package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/portal-bridge/internal/audit"
)

// handleListAudit returns audited commands, newest first.
//
// Query parameters:
//   - key, action, outcome: optional filters
//   - limit: entries per page (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command audit is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceKey: q.Get("key"),
		Action:    q.Get("action"),
		Outcome:   q.Get("outcome"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("reading command audit", "error", err)
		writeInternalError(w, "failed to read command audit")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
