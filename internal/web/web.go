package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"teamcal/internal/apperror"
	"teamcal/internal/breaksync"
	"teamcal/internal/cache"
	"teamcal/internal/config"
	appLog "teamcal/internal/log"
	"teamcal/internal/store"
)

// Deps are the services behind the HTTP API. Cache and Syncer may be nil.
type Deps struct {
	Store    store.Store
	Cache    cache.Cache
	Syncer   *breaksync.Syncer
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the calendar, session and attendance HTTP APIs.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendarICS)
	s.mux.HandleFunc("POST /api/sessions/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/sessions/{id}/attendance", s.handleAttendance)
	s.mux.HandleFunc("POST /api/sessions/{id}/close", s.handleClose)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/seasons/{id}/breaks/sync", s.handleBreakSync)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.PasswordHash != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	hash := []byte(s.cfg.BasicAuth.PasswordHash)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="teamcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// invalidate drops the cached calendars of a tenant after a write.
func (s *Server) invalidate(ctx context.Context, tenantID int64) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.InvalidateTenant(ctx, tenantID); err != nil {
		appLog.Warn("calendar cache invalidation failed", "tenant_id", tenantID, "err", err)
	}
}

// tenantParam reads the required ?tenant= query parameter.
func tenantParam(r *http.Request) (int64, error) {
	return requiredID(r.URL.Query().Get("tenant"), "tenant")
}

func pathID(r *http.Request) (int64, error) {
	return requiredID(r.PathValue("id"), "id")
}

func requiredID(raw, name string) (int64, error) {
	if raw == "" {
		return 0, apperror.NewBadRequest(name + " is required")
	}
	return positiveID(raw, name)
}

func optionalID(raw, name string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return positiveID(raw, name)
}

func positiveID(raw, name string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperror.NewBadRequest("invalid " + name + " " + strconv.Quote(raw))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeAppError maps err to a status and client-safe message. Server-side
// failures are logged with their internal cause.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		appLog.Debug("request cancelled", "path", r.URL.Path)
		return
	}
	code := apperror.SafeCode(err)
	if code >= http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
	}
	writeError(w, code, apperror.SafeMessage(err))
}
