package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/redact"
	"github.com/phrazzld/coursegen/internal/store"
	"golang.org/x/sync/errgroup"
)

// PoolConfig holds configuration options for the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent workers. If zero or negative,
	// defaults to 1.
	Workers int
	// PollInterval is how long an idle worker waits before looking again.
	PollInterval time.Duration
	// ErrorBackoff is how long a worker waits after a store failure.
	ErrorBackoff time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		PollInterval: time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// PoolConfigFromQueue maps queue settings to a PoolConfig.
func PoolConfigFromQueue(cfg config.QueueConfig) PoolConfig {
	pc := DefaultPoolConfig()
	pc.Workers = cfg.WorkerCount
	pc.PollInterval = cfg.PollInterval()
	return pc
}

// Pool runs several workers against the queue. It is the in-process
// dispatcher; external triggers call Worker.ProcessOne directly instead.
type Pool struct {
	worker   *Worker
	jobs     store.JobStore
	progress *Progress
	sweeper  *Sweeper
	cfg      PoolConfig
	logger   *slog.Logger
}

// NewPool creates a Pool. sweeper may be nil when leases are swept
// elsewhere.
func NewPool(worker *Worker, jobs store.JobStore, sweeper *Sweeper, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.Workers,
			"default_count", 1)
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = cfg.PollInterval
	}
	return &Pool{
		worker:   worker,
		jobs:     jobs,
		progress: NewProgress(jobs),
		sweeper:  sweeper,
		cfg:      cfg,
		logger:   logger.With("component", "worker_pool"),
	}
}

// Run processes jobs of every active batch, oldest batch first, until ctx
// is done. Store failures are logged and retried after ErrorBackoff.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", slog.Int("workers", p.cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	if p.sweeper != nil {
		g.Go(func() error { return p.sweeper.Run(gctx) })
	}
	for i := 0; i < p.cfg.Workers; i++ {
		wctx := p.workerContext(gctx, i)
		g.Go(func() error {
			p.serve(wctx)
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) serve(ctx context.Context) {
	log := logger.FromContextOrDefault(ctx, p.logger)
	for ctx.Err() == nil {
		processed, err := p.round(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("worker round failed", slog.String("error", redact.Error(err)))
			_ = sleep(ctx, p.cfg.ErrorBackoff)
		case !processed:
			_ = sleep(ctx, p.cfg.PollInterval)
		}
	}
}

// round processes one job from the first active batch that has one.
func (p *Pool) round(ctx context.Context) (bool, error) {
	batches, err := p.jobs.ListActiveBatches(ctx)
	if err != nil {
		return false, err
	}
	for _, batchID := range batches {
		res, err := p.worker.ProcessOne(ctx, batchID)
		if err != nil {
			return false, err
		}
		if res.Processed {
			return true, nil
		}
	}
	return false, nil
}

// RunUntilDrained processes the batch until none of its jobs is pending
// or processing, and returns the final progress. Jobs waiting out a retry
// delay keep the pool polling. The first store failure stops every worker.
func (p *Pool) RunUntilDrained(ctx context.Context, batchID uuid.UUID) (domain.BatchProgress, error) {
	if _, err := p.progress.Status(ctx, batchID); err != nil {
		return domain.BatchProgress{}, err
	}

	if p.sweeper != nil {
		sweepCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() { _ = p.sweeper.Run(sweepCtx) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		wctx := p.workerContext(gctx, i)
		g.Go(func() error { return p.drain(wctx, batchID) })
	}
	if err := g.Wait(); err != nil {
		return domain.BatchProgress{}, err
	}

	progress, err := p.progress.Status(ctx, batchID)
	if err != nil {
		return domain.BatchProgress{}, err
	}
	p.logger.Info("batch drained",
		slog.String("batch_id", batchID.String()),
		slog.Int("completed", progress.Completed),
		slog.Int("failed", progress.Failed))
	return progress, nil
}

func (p *Pool) drain(ctx context.Context, batchID uuid.UUID) error {
	for {
		res, err := p.worker.ProcessOne(ctx, batchID)
		if err != nil {
			return err
		}
		if res.Processed {
			continue
		}

		progress, err := p.progress.Status(ctx, batchID)
		if err != nil {
			return err
		}
		if progress.Done() {
			return nil
		}
		if err := sleep(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (p *Pool) workerContext(ctx context.Context, id int) context.Context {
	return logger.WithLogger(ctx, p.worker.logger.With(slog.Int("worker_id", id)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
