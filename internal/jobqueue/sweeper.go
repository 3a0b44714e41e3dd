package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/redact"
	"github.com/phrazzld/coursegen/internal/store"
)

// DefaultSweepInterval is how often Run looks for expired leases.
const DefaultSweepInterval = 30 * time.Second

// Sweeper returns jobs held by dead workers to the queue. A job whose lease
// expired counts as a failed attempt and goes through the retry policy.
type Sweeper struct {
	jobs     store.JobStore
	policy   RetryPolicy
	interval time.Duration
	emitter  events.EventEmitter
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. A non-positive interval selects
// DefaultSweepInterval; a nil emitter discards events.
func NewSweeper(
	jobs store.JobStore,
	policy RetryPolicy,
	interval time.Duration,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		jobs:     jobs,
		policy:   policy,
		interval: interval,
		emitter:  emitter,
		logger:   logger.With("component", "lease_sweeper"),
	}
}

// SweepOnce requeues or fails every job whose lease has expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (store.SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	res, err := s.jobs.RequeueExpiredLeases(ctx, s.policy.Budget, s.policy.RetryDelay)
	if err != nil {
		return res, err
	}
	if res.Requeued == 0 && res.Failed == 0 {
		return res, nil
	}

	log.Warn("expired leases swept",
		slog.Int("requeued", res.Requeued),
		slog.Int("failed", res.Failed))

	event := events.NewEvent(events.LeasesSwept, uuid.Nil)
	event.Count = res.Requeued
	event.Failed = res.Failed
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("failed to emit sweep event", slog.String("error", err.Error()))
	}
	return res, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("lease sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lease sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("lease sweep failed", slog.String("error", redact.Error(err)))
			}
		}
	}
}
