// Package statusserver exposes a tiny read-only HTTP endpoint showing
// the current checkpoint and progress state of a runner process, for
// the optional `runner --serve` mode.
package statusserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// StatusProvider supplies the JSON payload served at /status.
type StatusProvider func() (interface{}, error)

// Server is a minimal chi-routed status server.
type Server struct {
	log      zerolog.Logger
	provider StatusProvider
}

// New returns a Server that serves whatever provider returns.
func New(log zerolog.Logger, provider StatusProvider) *Server {
	return &Server{log: log.With().Str("component", "statusserver").Logger(), provider: provider}
}

// Handler builds the chi router: CORS-permissive /status and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		payload, err := s.provider()
		if err != nil {
			s.log.Error().Err(err).Msg("status provider failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.log.Error().Err(err).Msg("encode status response")
		}
	})

	return r
}
