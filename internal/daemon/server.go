package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/piperunner/internal/config"
	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// Backend is the daemon surface the HTTP API is served from. The daemon
// implements it; handler tests substitute stubs.
type Backend interface {
	SubmitRun(trigger Trigger, branch string) (RunJob, error)
	GetQueuedJobs() []RunJob
	GetActiveJobs() []RunJob
	GetHistory() []RunJob
	GetJob(id string) (RunJob, bool)
	AbortJob(id string) error
	StatusData() StatusData
}

// Server is the daemon's HTTP API: health and status probes, the run
// endpoints and optionally the Prometheus scrape target.
type Server struct {
	cfg     *config.Config
	backend Backend
	router  *chi.Mux
	server  *http.Server
}

// NewServer builds the API router. A nil metricsHandler leaves /metrics
// unregistered.
func NewServer(cfg *config.Config, backend Backend, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public routes (no auth required)
	r.Get("/healthz", s.handleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// API routes, guarded by the bearer token when one is configured
	r.Group(func(r chi.Router) {
		if cfg.Daemon.APIKey != "" {
			r.Use(AuthMiddleware(cfg.Daemon.APIKey))
		}

		r.Get("/status", s.handleStatus)
		r.Post("/api/v1/runs", s.handleSubmitRun)
		r.Get("/api/v1/runs", s.handleListRuns)
		r.Get("/api/v1/runs/{runID}", s.handleGetRun)
		r.Delete("/api/v1/runs/{runID}", s.handleAbortRun)
	})

	s.router = r
	s.server = &http.Server{
		Addr:         cfg.Daemon.Listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the listen address and serves in the background. Bind errors
// surface synchronously; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	slog.Info("Daemon API listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", logfields.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"app":    "piperunner",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.backend.StatusData())
}

type submitRunRequest struct {
	Branch string `json:"branch"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.backend.SubmitRun(TriggerAPI, req.Branch)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "run queue is full")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"queued":  s.backend.GetQueuedJobs(),
		"active":  s.backend.GetActiveJobs(),
		"history": s.backend.GetHistory(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	job, ok := s.backend.GetJob(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no run with id %s", id))
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	if _, ok := s.backend.GetJob(id); !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no run with id %s", id))
		return
	}

	if err := s.backend.AbortJob(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}
