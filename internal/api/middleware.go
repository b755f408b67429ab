package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nerrad567/portal-bridge/internal/control"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"

	requestIDHeader = "X-Request-ID"

	// maxRequestBodySize caps POST bodies. Commands are a few bytes of JSON.
	maxRequestBodySize = 1 << 20
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string) //nolint:errcheck // absent means empty
	return id
}

// requestIDMiddleware keeps a caller-supplied X-Request-ID or assigns a
// UUID, and echoes it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// loggingMiddleware logs one line per request. Health probes log at debug
// so a monitoring poll doesn't drown the log. The writer wrapper keeps
// http.Hijacker for the WebSocket upgrade.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		}
		if r.URL.Path == "/health" {
			s.logger.Debug("http request", attrs...)
			return
		}
		s.logger.Info("http request", attrs...)
	})
}

// recoveryMiddleware turns a handler panic into a 500. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
				panic(rec)
			}
			s.logger.Error("panic recovered in HTTP handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and sets CORS headers for allowed
// origins. No configured origins means any origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	methods := strings.Join(s.cfg.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}
	headers := strings.Join(s.cfg.CORS.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Authorization, Content-Type, " + requestIDHeader
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authMiddleware requires a bearer token signed with the configured secret
// and tags the request with the token subject. With no secret configured
// every request passes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.secCfg.JWT.Secret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		subject, err := ParseToken(secret, token)
		if err != nil {
			s.logger.Debug("rejected API token", "error", err, "path", r.URL.Path)
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(control.WithSubject(r.Context(), subject)))
	})
}
