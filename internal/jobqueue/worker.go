package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/redact"
	"github.com/phrazzld/coursegen/internal/store"
)

// finalizeTimeout bounds the store update that ends an attempt. It runs on
// a context detached from the caller so shutdown does not strand the job.
const finalizeTimeout = 10 * time.Second

// WorkerConfig holds the timing settings of a Worker.
type WorkerConfig struct {
	// Lease is how long each claim stays valid between heartbeats.
	Lease time.Duration
	// HeartbeatInterval is how often the lease is renewed while generating.
	// Zero selects a third of Lease; a negative value disables heartbeats.
	HeartbeatInterval time.Duration
	// GenerationTimeout bounds a single backend call.
	GenerationTimeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Lease:             DefaultLease,
		GenerationTimeout: 90 * time.Second,
	}
}

// WorkerConfigFromQueue maps queue settings to a WorkerConfig.
func WorkerConfigFromQueue(cfg config.QueueConfig) WorkerConfig {
	return WorkerConfig{
		Lease:             cfg.Lease(),
		GenerationTimeout: cfg.GenerationTimeout(),
	}
}

// ProcessResult reports what one ProcessOne call did.
type ProcessResult struct {
	// Processed is false when the batch had no claimable job.
	Processed bool             `json:"processed"`
	JobID     *uuid.UUID       `json:"job_id,omitempty"`
	Status    domain.JobStatus `json:"status,omitempty"`
	// Attempt is the job's attempt count after this call.
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Worker claims, generates, merges and records one job at a time.
type Worker struct {
	jobs      store.JobStore
	claimer   *Claimer
	generator generation.Generator
	merger    *MergeWriter
	policy    RetryPolicy
	cfg       WorkerConfig
	emitter   events.EventEmitter
	logger    *slog.Logger
}

// NewWorker creates a Worker. A nil emitter discards events.
func NewWorker(
	jobs store.JobStore,
	documents store.DocumentStore,
	generator generation.Generator,
	policy RetryPolicy,
	cfg WorkerConfig,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Worker {
	if cfg.HeartbeatInterval == 0 && cfg.Lease > 0 {
		cfg.HeartbeatInterval = cfg.Lease / 3
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:      jobs,
		claimer:   NewClaimer(jobs, cfg.Lease),
		generator: generator,
		merger:    NewMergeWriter(jobs, documents),
		policy:    policy,
		cfg:       cfg,
		emitter:   emitter,
		logger:    logger.With("component", "worker"),
	}
}

// ProcessOne claims and processes at most one job of the batch.
//
// Per-job failures are recorded on the job and reported in the result. The
// error return is reserved for store failures and wraps ErrStoreUnavailable.
func (w *Worker) ProcessOne(ctx context.Context, batchID uuid.UUID) (ProcessResult, error) {
	job, err := w.claimer.ClaimNext(ctx, batchID)
	if errors.Is(err, store.ErrNoJobAvailable) {
		return ProcessResult{}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ProcessResult{}, ctx.Err()
		}
		return ProcessResult{}, fmt.Errorf("%w: claim next job: %v", ErrStoreUnavailable, err)
	}

	log := logger.FromContextOrDefault(ctx, w.logger).With(
		slog.String("job_id", job.ID.String()),
		slog.String("batch_id", job.BatchID.String()),
		slog.Int("attempt", job.AttemptCount),
	)
	ctx = logger.WithLogger(ctx, log)
	w.emit(ctx, events.NewJobEvent(events.JobClaimed, job.BatchID, job.ID, job.AttemptCount))
	log.Debug("job claimed",
		slog.String("module", job.ModuleIdentifier),
		slog.String("subsection", job.SubsectionTitle))

	start := time.Now()
	documentID, runErr := w.run(ctx, job)
	elapsed := time.Since(start)

	// The attempt's outcome is recorded even when ctx has been cancelled.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	switch {
	case runErr == nil:
		return w.complete(finalCtx, log, job, documentID, elapsed)
	case ctx.Err() != nil && !errors.Is(runErr, store.ErrClaimLost):
		// The caller went away (shutdown, dropped request). The backend did
		// not fail, so the attempt is not charged.
		return w.release(finalCtx, log, job, context.Cause(ctx), elapsed)
	default:
		return w.fail(finalCtx, log, job, runErr, elapsed)
	}
}

// run generates and merges the job while keeping its lease alive.
func (w *Worker) run(ctx context.Context, job *domain.Job) (documentID uuid.UUID, err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := w.startHeartbeat(ctx, job.Claim(), cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			logger.FromContextOrDefault(ctx, w.logger).Error("job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic while processing job: %v", r)
		}
	}()

	content, err := w.generate(ctx, job)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, store.ErrClaimLost) {
			return uuid.Nil, cause
		}
		return uuid.Nil, err
	}

	documentID, err = w.merger.Merge(ctx, job, content)
	if err != nil && !isJobLevelMergeError(ctx, err) {
		err = &storeFailure{err: err}
	}
	return documentID, err
}

// isJobLevelMergeError reports whether a merge error belongs to the job
// (missing target, invalid data, cancellation) rather than to the store.
func isJobLevelMergeError(ctx context.Context, err error) bool {
	return store.IsNotFoundError(err) ||
		errors.Is(err, store.ErrInvalidEntity) ||
		ctx.Err() != nil
}

func (w *Worker) generate(ctx context.Context, job *domain.Job) (*domain.GeneratedContent, error) {
	if w.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.GenerationTimeout)
		defer cancel()
	}

	content, err := w.generator.Generate(ctx, generation.NewRequest(job))
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("%w: backend returned no content", generation.ErrInvalidResponse)
	}
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}
	return content, nil
}

// startHeartbeat renews the lease until the returned stop function is
// called. Losing the claim cancels ctx with store.ErrClaimLost.
func (w *Worker) startHeartbeat(ctx context.Context, claim domain.Claim, cancel context.CancelCauseFunc) func() {
	if w.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.claimer.Renew(ctx, claim)
				switch {
				case err == nil:
				case errors.Is(err, store.ErrClaimLost), errors.Is(err, store.ErrJobNotFound):
					cancel(store.ErrClaimLost)
					return
				default:
					logger.FromContextOrDefault(ctx, w.logger).Warn("lease renewal failed",
						slog.String("error", redact.Error(err)))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) complete(
	ctx context.Context,
	log *slog.Logger,
	job *domain.Job,
	documentID uuid.UUID,
	elapsed time.Duration,
) (ProcessResult, error) {
	result := ProcessResult{Processed: true, JobID: &job.ID, Attempt: job.AttemptCount}

	err := w.jobs.MarkCompleted(ctx, job.Claim(), documentID)
	switch {
	case errors.Is(err, store.ErrClaimLost):
		log.Warn("claim lost before completion; result was merged")
		result.Error = store.ErrClaimLost.Error()
		return result, nil
	case err != nil:
		return result, fmt.Errorf("%w: mark job completed: %v", ErrStoreUnavailable, err)
	}

	result.Status = domain.JobStatusCompleted
	log.Info("job completed",
		slog.String("document_id", documentID.String()),
		slog.Duration("duration", elapsed))

	event := events.NewJobEvent(events.JobCompleted, job.BatchID, job.ID, job.AttemptCount)
	event.Duration = elapsed
	w.emit(ctx, event)
	return result, nil
}

func (w *Worker) fail(
	ctx context.Context,
	log *slog.Logger,
	job *domain.Job,
	cause error,
	elapsed time.Duration,
) (ProcessResult, error) {
	result := ProcessResult{Processed: true, JobID: &job.ID, Attempt: job.AttemptCount}
	message := redact.LastError(cause)

	if errors.Is(cause, store.ErrClaimLost) {
		log.Warn("claim lost while processing; job belongs to another worker now")
		result.Error = message
		return result, nil
	}

	outcome := w.policy.Decide(job, cause)
	status, err := w.jobs.MarkFailedOrRequeue(ctx, job.Claim(), message, outcome)
	switch {
	case errors.Is(err, store.ErrClaimLost):
		log.Warn("claim lost before failure was recorded", slog.String("error", message))
		result.Error = message
		return result, nil
	case err != nil:
		return result, fmt.Errorf("%w: record job failure: %v", ErrStoreUnavailable, err)
	}

	result.Status = status
	result.Error = message

	eventType := events.JobFailed
	if status == domain.JobStatusPending {
		result.Attempt++
		eventType = events.JobRequeued
		log.Warn("job failed, requeued",
			slog.String("error", message),
			slog.Bool("transient", generation.IsTransient(cause)),
			slog.Duration("retry_in", outcome.RetryDelay))
	} else {
		log.Error("job failed permanently", slog.String("error", message))
	}

	event := events.NewJobEvent(eventType, job.BatchID, job.ID, result.Attempt)
	event.Error = message
	event.Duration = elapsed
	w.emit(ctx, event)

	// Store failures during the merge are surfaced after the job is recorded.
	if isStoreFailure(cause) {
		return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
	}
	return result, nil
}

// release returns an interrupted job to pending without spending its retry
// budget. Jobs of a cancelled batch still fail.
func (w *Worker) release(
	ctx context.Context,
	log *slog.Logger,
	job *domain.Job,
	cause error,
	elapsed time.Duration,
) (ProcessResult, error) {
	result := ProcessResult{Processed: true, JobID: &job.ID, Attempt: job.AttemptCount}
	message := "interrupted: " + redact.LastError(cause)

	outcome := store.FailureOutcome{Requeue: true, Uncharged: true}
	status, err := w.jobs.MarkFailedOrRequeue(ctx, job.Claim(), message, outcome)
	switch {
	case errors.Is(err, store.ErrClaimLost):
		log.Warn("claim lost before release was recorded")
		result.Error = message
		return result, nil
	case err != nil:
		return result, fmt.Errorf("%w: release job: %v", ErrStoreUnavailable, err)
	}

	result.Status = status
	result.Error = message
	log.Info("job released after caller cancellation", slog.String("status", string(status)))

	eventType := events.JobRequeued
	if status != domain.JobStatusPending {
		eventType = events.JobFailed
	}
	event := events.NewJobEvent(eventType, job.BatchID, job.ID, job.AttemptCount)
	event.Error = message
	event.Duration = elapsed
	w.emit(ctx, event)
	return result, nil
}

func (w *Worker) emit(ctx context.Context, event *events.Event) {
	if err := w.emitter.EmitEvent(ctx, event); err != nil {
		logger.FromContextOrDefault(ctx, w.logger).Warn("failed to emit event",
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}

// storeFailure marks an error returned by a store call made during the merge.
type storeFailure struct{ err error }

func (e *storeFailure) Error() string { return e.err.Error() }
func (e *storeFailure) Unwrap() error { return e.err }

func isStoreFailure(err error) bool {
	var sf *storeFailure
	return errors.As(err, &sf)
}
