// Package api exposes the status and control HTTP endpoints. It never
// reaches into the polling core beyond the Runner interface and the
// shared status handle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ylr9527/mail-wx/internal/scheduler"
	"github.com/ylr9527/mail-wx/internal/status"
)

// authHeader carries the shared secret on protected endpoints.
const authHeader = "X-Auth-Token"

// Runner triggers poll passes; implemented by scheduler.Scheduler.
type Runner interface {
	RunAll(ctx context.Context) error
	Trigger()
}

type Server struct {
	secret string
	runner Runner
	status *status.Status
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates the control-surface handler. An empty secret leaves
// the protected endpoints open, which is only sensible behind a private
// network.
func NewServer(secret string, runner Runner, st *status.Status, logger *slog.Logger) *Server {
	s := &Server{
		secret: secret,
		runner: runner,
		status: st,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/wake", s.handleWake)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.status.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":       "running",
		"last_check":   snap.LastCheck,
		"last_outcome": snap.LastOutcome,
		"is_checking":  snap.IsChecking,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.status.Snapshot())
}

// handleCheck synchronously runs one full pass over all accounts and
// reports its outcome.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(w, r) {
		return
	}

	err := s.runner.RunAll(r.Context())
	snap := s.status.Snapshot()
	switch {
	case errors.Is(err, scheduler.ErrAlreadyChecking):
		s.respondJSON(w, http.StatusConflict, map[string]any{
			"status":      "busy",
			"error":       err.Error(),
			"last_check":  snap.LastCheck,
			"is_checking": snap.IsChecking,
		})
	case err != nil:
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":     "error",
			"error":      err.Error(),
			"last_check": snap.LastCheck,
		})
	default:
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"last_check": snap.LastCheck,
		})
	}
}

// handleWake fires a background pass and returns immediately.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(w, r) {
		return
	}

	s.runner.Trigger()
	snap := s.status.Snapshot()
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"last_check":  snap.LastCheck,
		"is_checking": snap.IsChecking,
	})
}

// authorized verifies the shared secret header, writing a client error
// when it is missing or wrong. No mail session is opened on auth failure.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	if r.Header.Get(authHeader) != s.secret {
		s.logger.Warn("unauthorized control request", "path", r.URL.Path, "remote", r.RemoteAddr)
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, map[string]string{"error": msg})
}
