package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/lazypower/nanobrain/internal/engine"
	"github.com/lazypower/nanobrain/internal/memstore"
)

// Server is the nanobrain HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
	logger  *slog.Logger

	// newSessionID mints ids for searches that ask for a fresh session.
	newSessionID func() string
}

// New creates a new Server over the engine with the given version string.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:       eng,
		version:      version,
		started:      time.Now(),
		logger:       eng.Logger,
		newSessionID: func() string { return ulid.Make().String() },
	}
	if s.logger == nil {
		s.logger = slog.Default()
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
		r.Get("/context", s.handleGetContext)
		r.Get("/summary", s.handleGetSummary)
		r.Post("/summary", s.handleWriteSummary)

		r.Get("/memories", s.handleListMemories)
		r.Post("/memories", s.handleCreateMemory)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Put("/memories/{id}", s.handleUpdateMemory)
		r.Delete("/memories/{id}", s.handleDeleteMemory)

		r.Get("/search", s.handleSearch)

		r.Get("/sessions/{sessionID}", s.handleSessionHistory)
		r.Post("/sessions/{sessionID}/turn", s.handleOpenTurn)
		r.Post("/sessions/{sessionID}/retrievals", s.handleRecordRetrieval)
		r.Post("/sessions/{sessionID}/outcome", s.handleOutcome)
		r.Get("/sessions/{sessionID}/pending", s.handlePendingTurn)

		r.Get("/credits", s.handleTopCredits)
		r.Get("/credits/{id}", s.handleGetCredit)

		r.Get("/lifecycle/log", s.handleLifecycleLog)
		r.Post("/lifecycle/decay", s.handleDecay)
		r.Post("/lifecycle/{pass}", s.handleLifecyclePass)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"uptime":     time.Since(s.started).Seconds(),
		"db":         true,
		"db_path":    s.engine.DB.Path,
		"memory_dir": s.engine.Dir,
	}
	if err := s.engine.DB.PingContext(r.Context()); err != nil {
		resp["db"] = false
		resp["db_error"] = err.Error()
	}
	if credits, err := s.engine.DB.CountCredits(r.Context()); err != nil {
		s.logger.Warn("server: count credits", "error", err)
		resp["credits_error"] = err.Error()
	} else {
		resp["credits"] = credits
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps store and engine errors onto HTTP status codes.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memstore.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, memstore.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, memstore.ErrPinned):
		status = http.StatusLocked
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}
