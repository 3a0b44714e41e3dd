package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/metrics"
	"github.com/phrazzld/coursegen/internal/platform/gemini"
	"github.com/phrazzld/coursegen/internal/platform/memory"
	"github.com/phrazzld/coursegen/internal/platform/postgres"
	"github.com/phrazzld/coursegen/internal/platform/redisbus"
	"github.com/phrazzld/coursegen/internal/service/auth"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Options adjusts what New builds.
type Options struct {
	// WithWorker builds the worker and pool. It needs a generator:
	// Generator when set, otherwise the configured Gemini backend.
	WithWorker bool
	Generator  generation.Generator

	// Registerer receives the queue metrics when metrics are enabled.
	// Nil means prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// App holds the assembled components. Fields that Options did not ask for
// are nil.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sql.DB

	Jobs      store.JobStore
	Documents store.DocumentStore
	Emitter   *events.InMemoryEventEmitter
	Policy    jobqueue.RetryPolicy

	Worker  *jobqueue.Worker
	Sweeper *jobqueue.Sweeper
	Pool    *jobqueue.Pool
	Service *jobqueue.Service

	JWT       auth.JWTService
	Metrics   *metrics.Collector
	Publisher *redisbus.Publisher
}

// New assembles the queue. A nil db selects the in-memory stores, which
// keep nothing across restarts. On error the caller still owns db.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, DB: db}

	if db != nil {
		a.Jobs = postgres.NewPostgresJobStore(db, logger)
		a.Documents = postgres.NewPostgresDocumentStore(db, logger)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		a.Jobs = memory.NewJobStore()
		a.Documents = memory.NewDocumentStore()
	}

	policy, err := jobqueue.RetryPolicyFromConfig(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	a.Policy = policy

	a.JWT, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	a.Emitter = events.NewInMemoryEventEmitter(logger)
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector(opts.Registerer)
		a.Emitter.RegisterHandler(a.Metrics)
	}
	if cfg.Redis.Addr != "" {
		a.Publisher, err = redisbus.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		a.Emitter.RegisterHandler(a.Publisher)
		logger.Info("publishing lifecycle events", slog.String("channel", a.Publisher.Channel()))
	}
	logger.Debug("event handlers registered", slog.Int("count", a.Emitter.HandlerCount()))

	a.Sweeper = jobqueue.NewSweeper(a.Jobs, policy, cfg.Queue.SweepInterval(), a.Emitter, logger)

	if opts.WithWorker {
		gen := opts.Generator
		if gen == nil {
			gen, err = gemini.NewGeminiGenerator(ctx, logger, cfg.LLM)
			if err != nil {
				if a.Publisher != nil {
					_ = a.Publisher.Close()
				}
				return nil, fmt.Errorf("failed to initialize generation backend: %w", err)
			}
		}
		a.Worker = jobqueue.NewWorker(a.Jobs, a.Documents, gen, policy,
			jobqueue.WorkerConfigFromQueue(cfg.Queue), a.Emitter, logger)
		a.Pool = jobqueue.NewPool(a.Worker, a.Jobs, a.Sweeper, jobqueue.PoolConfigFromQueue(cfg.Queue), logger)
	}

	a.Service = jobqueue.NewService(a.Jobs, a.Documents, a.Worker, a.Emitter, logger)
	return a, nil
}

// Close releases the publisher and the database.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// OpenDatabase opens and pings the configured Postgres database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns))
	return db, nil
}
