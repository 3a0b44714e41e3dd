package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/coursegen/internal/app"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// server runs the HTTP API and, when a worker is configured, the pool
// that drains active batches.
type server struct {
	app      *app.App
	registry *prometheus.Registry
	logger   *slog.Logger
}

// newServer assembles the application. Metrics go to a private registry
// so repeated construction in tests does not collide.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB, opts app.Options) (*server, error) {
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	opts.Registerer = registry

	a, err := app.New(ctx, cfg, logger, db, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	logger.Info("application initialized",
		slog.Bool("worker_pool", a.Pool != nil),
		slog.Bool("metrics", a.Metrics != nil),
		slog.Bool("event_publisher", a.Publisher != nil))

	return &server{app: a, registry: registry, logger: logger}, nil
}

// Run serves until ctx is cancelled, then shuts the HTTP server and the
// pool down and releases resources.
func (s *server) Run(ctx context.Context) error {
	defer s.cleanup()

	g, ctx := errgroup.WithContext(ctx)
	if s.app.Pool != nil {
		g.Go(func() error {
			if err := s.app.Pool.Run(ctx); err != nil {
				return fmt.Errorf("worker pool: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return s.startHTTPServer(ctx, s.setupRouter())
	})
	return g.Wait()
}

func (s *server) cleanup() {
	if err := s.app.Close(); err != nil {
		s.logger.Error("error releasing resources", "error", err)
	}
	s.logger.Info("application shutdown completed")
}
