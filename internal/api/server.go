package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/config"
	"github.com/dgallion1/docsum/internal/pipeline"
)

// StatsSource reports per-model backend call statistics.
// *backend.Client implements it.
type StatsSource interface {
	Name() string
	Stats() *backend.Stats
}

// Server is the HTTP API server for docsum.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        StatsSource
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, stats StatsSource, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocsumAPIKey, s.log))

		r.Post("/api/summarize", s.handleSummarize)
		r.Post("/api/summarize/batch", s.handleBatchSummarize)
		r.Get("/api/summarize/{jobID}", s.handleSummarizeStatus)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
