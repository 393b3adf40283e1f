package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/contexta-ingest/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta-ingest/internal/api/middlewares"
	"github.com/markdave123-py/contexta-ingest/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, docHandler *handlers.DocumentHandler, crawlHandler *handlers.CrawlHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	// Synchronous ingestion embeds every chunk inside the request.
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			protected.Post("/ingest", docHandler.Ingest)
			protected.Get("/documents/{documentID}", docHandler.GetDocument)
			protected.Get("/knowledge-bases/{kbID}/documents", docHandler.ListDocuments)
			protected.Post("/crawl", crawlHandler.Crawl)
			protected.Get("/crawl/runs/{runID}", crawlHandler.GetRun)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
