// Package api exposes the orchestration engine over HTTP: work item
// operations, the dispatch trigger, the signed status callback, the
// websocket realtime channel and its polling-equivalent read path.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/dispatch"
	"github.com/flowforge/flowforge/internal/domain"
	"github.com/flowforge/flowforge/internal/hub"
	"github.com/flowforge/flowforge/internal/orchestrator"
)

// Server is the HTTP API server
type Server struct {
	orch       *orchestrator.Orchestrator
	dispatcher *dispatch.Dispatcher
	hub        *hub.Hub
	realtime   config.RealtimeConfig
	router     chi.Router
}

// NewServer wires the API routes
func NewServer(orch *orchestrator.Orchestrator, dispatcher *dispatch.Dispatcher, h *hub.Hub, realtime config.RealtimeConfig) *Server {
	s := &Server{
		orch:       orch,
		dispatcher: dispatcher,
		hub:        h,
		realtime:   realtime,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/workitems", func(r chi.Router) {
			r.Post("/", s.handleCreateWorkItem)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkItem)
				r.Post("/transition", s.handleTransition)
				r.Patch("/flags", s.handleUpdateFlags)
				r.Get("/transitions", s.handleAvailableTransitions)
				r.Get("/gates", s.handleGetGates)
				r.Put("/gates/{gate}", s.handlePutGate)
				r.Post("/dispatch", s.handleDispatch)
			})
		})

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Post("/callback", s.handleCallback)
			r.Get("/status", s.handleTaskStatus)
			r.Get("/logs", s.handleTaskLogs)
		})

		r.Get("/ws", s.hub.HandleWebSocket)
	})

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Clients read the reconnect policy from here instead of
	// hardcoding it
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.ConnectionCount(),
		"realtime": map[string]int{
			"reconnect_initial_secs": s.realtime.ReconnectInitialSecs,
			"reconnect_max_secs":     s.realtime.ReconnectMaxSecs,
			"poll_fallback_attempts": s.realtime.PollFallbackAttempts,
		},
	})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto status codes. Store
// internals are never leaked: anything unrecognized becomes a generic
// 500 and is logged server-side only.
func writeDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidTransitionError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrWebhookNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, invalid.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
