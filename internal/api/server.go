// Package api implements the HTTP/JSON surface described by the render
// farm's external interface: login, session management, and task
// lifecycle, plus the operational /healthz and /metrics endpoints.
package api

import (
	"log/slog"
	"net/http"

	"github.com/coldforge/renderfarm/internal/auth"
	"github.com/coldforge/renderfarm/internal/renderer"
	"github.com/coldforge/renderfarm/internal/store"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	mgr      *auth.Manager
	store    *store.Store
	registry *renderer.TaskRegistry
	logger   *slog.Logger
}

// NewServer returns a Server ready to be handed to Routes.
func NewServer(mgr *auth.Manager, st *store.Store, registry *renderer.TaskRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mgr: mgr, store: st, registry: registry, logger: logger}
}

// Routes returns the configured mux. Port 8888 per the external interface
// table; the caller wraps this in an *http.Server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/session/list", s.handleSessionList)
	mux.HandleFunc("/session/remove", s.handleSessionRemove)

	mux.HandleFunc("/task/request", s.handleTaskRequest)
	mux.HandleFunc("/task/stat", s.handleTaskStat)
	mux.HandleFunc("/task/list", s.handleTaskList)
	mux.HandleFunc("/task/kill", s.handleTaskKill)
	mux.HandleFunc("/task/delete", s.handleTaskDelete)
	mux.HandleFunc("/task/result", s.handleTaskResult)

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handlePrometheusMetrics)

	return withRequestLogging(mux, s.logger)
}
