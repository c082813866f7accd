// Package statusapi serves the local connectivity endpoint backing the
// dashboard's connection indicator and polling fallback decision.
package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Hub is the slice of the realtime hub the endpoint reports on.
type Hub interface {
	Status() string
	IsConnected() bool
	RTT() time.Duration
	Attempts() int
	Degraded() bool
	ActivePage() string
	PausedTopics() []string
}

// Server exposes /health and /status over HTTP.
type Server struct {
	hub    Hub
	log    zerolog.Logger
	router *chi.Mux
}

// New creates the status server.
func New(hub Hub, log zerolog.Logger) *Server {
	s := &Server{
		hub: hub,
		log: log.With().Str("component", "statusapi").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("status endpoint listening")
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      s.hub.Status(),
		"connected":   s.hub.IsConnected(),
		"rtt_ms":      s.hub.RTT().Milliseconds(),
		"attempts":    s.hub.Attempts(),
		"degraded":    s.hub.Degraded(),
		"active_page": s.hub.ActivePage(),
		"paused":      s.hub.PausedTopics(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug().Err(err).Msg("failed to write status response")
	}
}
