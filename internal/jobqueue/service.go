package jobqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/store"
)

// Service is the queue's outward surface: submission, the single-step
// dispatcher trigger, progress and cancellation. The HTTP API and the CLI
// both drive the queue through it.
type Service struct {
	enumerator *enumerate.Enumerator
	worker     *Worker
	progress   *Progress
	jobs       store.JobStore
	documents  store.DocumentStore
	emitter    events.EventEmitter
	logger     *slog.Logger
}

// NewService creates a Service. A nil emitter discards events. A nil
// worker gives a service that can submit, report and cancel but not
// process.
func NewService(
	jobs store.JobStore,
	documents store.DocumentStore,
	worker *Worker,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		enumerator: enumerate.NewEnumerator(jobs, documents, emitter, logger),
		worker:     worker,
		progress:   NewProgress(jobs),
		jobs:       jobs,
		documents:  documents,
		emitter:    emitter,
		logger:     logger.With("component", "queue_service"),
	}
}

// Submit enumerates and stores a new batch.
func (s *Service) Submit(ctx context.Context, sub enumerate.Submission) (*enumerate.Result, error) {
	return s.enumerator.Submit(ctx, sub)
}

// ProcessOne processes at most one job of the batch. See Worker.ProcessOne.
func (s *Service) ProcessOne(ctx context.Context, batchID uuid.UUID) (ProcessResult, error) {
	if s.worker == nil {
		return ProcessResult{}, ErrNoWorker
	}
	if _, err := s.jobs.GetBatch(ctx, batchID); err != nil {
		return ProcessResult{}, err
	}
	return s.worker.ProcessOne(ctx, batchID)
}

// Status returns the batch's progress.
func (s *Service) Status(ctx context.Context, batchID uuid.UUID) (domain.BatchProgress, error) {
	return s.progress.Status(ctx, batchID)
}

// Batch returns the batch record.
func (s *Service) Batch(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error) {
	return s.jobs.GetBatch(ctx, batchID)
}

// Jobs lists the batch's jobs, optionally filtered by status.
func (s *Service) Jobs(ctx context.Context, batchID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidJobStatus, status)
	}
	if _, err := s.jobs.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.jobs.ListJobs(ctx, batchID, status)
}

// Cancel stops a batch: its pending jobs fail and nothing more is claimed.
// Jobs already processing run to the end of their current attempt.
func (s *Service) Cancel(ctx context.Context, batchID uuid.UUID) (int, error) {
	n, err := s.jobs.CancelBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	log := logger.FromContextOrDefault(ctx, s.logger)
	log.Info("batch cancelled",
		slog.String("batch_id", batchID.String()),
		slog.Int("cancelled_jobs", n))

	event := events.NewEvent(events.BatchCancelled, batchID)
	event.Count = n
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("failed to emit batch cancelled event", slog.String("error", err.Error()))
	}
	return n, nil
}

// Document returns a course document with its merged results.
func (s *Service) Document(ctx context.Context, documentID uuid.UUID) (*domain.CourseDocument, error) {
	return s.documents.GetDocument(ctx, documentID)
}
