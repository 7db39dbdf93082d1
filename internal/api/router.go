package api

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
)

// readyTimeout bounds each readiness check.
const readyTimeout = 5 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/displays", func(r chi.Router) {
			r.Get("/", s.handleListDisplays)
			r.Route("/{index}", func(r chi.Router) {
				r.Get("/", s.handleGetDisplay)
				r.Put("/{feature}", s.handleSetFeature)
			})
		})

		r.Post("/reconcile", s.handleReconcile)
		r.Get("/commands", s.handleListCommands)
	})

	return r
}

// handleHealth returns the bridge health document, or a minimal one when
// no health reporter is wired.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": s.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.health.Current())
}

// ReadyResponse is the body of GET /ready. Checks maps each dependency to
// "ok" or its error.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// handleReady pings every configured dependency and answers 503 when any
// of them fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	names := slices.Sorted(maps.Keys(s.checks))
	resp := ReadyResponse{Ready: true, Checks: make(map[string]string, len(names))}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Ready = false
			resp.Checks[name] = err.Error()
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
