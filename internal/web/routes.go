package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/kozaktomas/event-photos/internal/web/handlers"
	"github.com/kozaktomas/event-photos/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes(deps Deps) {
	authHandler := handlers.NewAuthHandler(deps.Photographers, deps.Tokens, s.logger)
	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.EventService, deps.Indexes, s.logger)
	photosHandler := handlers.NewPhotosHandler(deps.Events, deps.Photos, deps.Blobs, deps.Indexer, deps.Indexes, deps.Publisher, s.config.Uploads, s.logger)
	guestHandler := handlers.NewGuestHandler(deps.Sessions, s.config.Uploads.MaxSelfieBytes, s.logger)
	healthHandler := handlers.NewHealthHandler(deps.Health)

	s.router.Get("/api/v1/health", healthHandler.Health)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Public guest routes
		r.Get("/events/code/{eventCode}", eventsHandler.GetByCode)
		r.Get("/events/{eventId}/qr", eventsHandler.QRCode)
		r.Get("/photos/{photoId}/download", photosHandler.Download)
		r.With(s.guestRateLimit()).Post("/guest/find-photos", guestHandler.FindPhotos)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.Tokens))

			r.Get("/auth/me", authHandler.Me)

			r.Get("/events", eventsHandler.List)
			r.Post("/events", eventsHandler.Create)
			r.Delete("/events/{eventId}", eventsHandler.Delete)

			r.Post("/events/{eventId}/photos", photosHandler.Upload)
			r.Get("/events/{eventId}/photos", photosHandler.List)
		})
	})
}

// guestRateLimit limits selfie searches per client IP.
func (s *Server) guestRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.config.Guest.RateLimitPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests, try again in a minute","kind":"rate_limited"}`))
		}),
	)
}
