package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/coursegen/internal/api"
	apiMiddleware "github.com/phrazzld/coursegen/internal/api/middleware"
	"github.com/phrazzld/coursegen/internal/metrics"
)

// setupRouter mounts the batch API behind bearer authentication, plus
// the unauthenticated health and metrics endpoints.
func (s *server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(s.logger))

	batchHandler := api.NewBatchHandler(s.app.Service, s.logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(s.app.JWT)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		batchHandler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Error("failed to write health check response", "error", err)
		}
	})

	if s.app.Metrics != nil {
		r.Handle("/metrics", metrics.Handler(s.registry))
	}

	return r
}
