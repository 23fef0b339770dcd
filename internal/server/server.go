package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quietvoice/prism/internal/engine"
	"github.com/quietvoice/prism/internal/store"
)

// Server is the prism HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server backed by the given engine.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/messages", s.handleProcessMessage)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/incidents", s.handleListIncidents)
			r.Get("/context", s.handleContext)
			r.Get("/similar", s.handleSimilar)
			r.Get("/transitions", s.handleUserTransitions)
		})

		r.Route("/incidents/{incidentID}", func(r chi.Router) {
			r.Get("/", s.handleGetIncident)
			r.Get("/transitions", s.handleIncidentTransitions)
			r.Get("/snapshots", s.handleSnapshots)
			r.Post("/suppress", s.handleSuppress)
			r.Post("/override", s.handleOverride)
			r.Post("/resurge", s.handleResurge)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
