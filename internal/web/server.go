package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/event-photos/internal/auth"
	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/events"
	"github.com/kozaktomas/event-photos/internal/storage"
	"github.com/kozaktomas/event-photos/internal/web/handlers"
	"github.com/kozaktomas/event-photos/internal/web/middleware"
	"go.uber.org/zap"
)

// IndexStore is the resident index set updated by uploads and deletes.
// *index.Arena implements it.
type IndexStore interface {
	Insert(eventID, photoID string, descriptor []float32) error
	Invalidate(eventID string)
}

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Photographers database.PhotographerRepository
	Events        database.EventRepository
	Photos        database.PhotoRepository
	Blobs         storage.BlobStore
	EventService  *events.Service
	Indexer       handlers.PhotoIndexer
	Indexes       IndexStore
	Sessions      handlers.PhotoFinder
	Tokens        *auth.TokenIssuer
	// Publisher queues uploads for the index workers; nil indexes inline.
	Publisher handlers.UploadPublisher
	Health    map[string]handlers.HealthCheck
}

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		logger: logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes(deps)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // bulk uploads
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
