package enumerate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/store"
)

// Submission is the authoring side's request to generate a course.
type Submission struct {
	Modules []domain.ModuleInput `validate:"required,min=1,dive"`
	Course  domain.CourseMetadata
	// TargetDocumentID names an existing document to merge into. When nil
	// a document is created for the batch on first merge.
	TargetDocumentID *uuid.UUID
}

// Result is what the caller gets back before any job runs.
type Result struct {
	BatchID         uuid.UUID               `json:"batch_id"`
	TotalJobs       int                     `json:"total_jobs"`
	Skeleton        []domain.ModuleSkeleton `json:"skeleton"`
	FallbackModules []string                `json:"fallback_modules,omitempty"`
}

// Enumerator turns submissions into persisted batches of pending jobs.
type Enumerator struct {
	jobs      store.JobStore
	documents store.DocumentStore
	emitter   events.EventEmitter
	validator *validator.Validate
	logger    *slog.Logger
}

// NewEnumerator creates an Enumerator. A nil emitter discards events.
func NewEnumerator(
	jobs store.JobStore,
	documents store.DocumentStore,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Enumerator {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		jobs:      jobs,
		documents: documents,
		emitter:   emitter,
		validator: validator.New(),
		logger:    logger.With("component", "enumerator"),
	}
}

// Submit expands the submission into jobs and stores them with a new batch
// in one atomic insert. When a target document is given its module skeleton
// is created first so merges find their modules.
func (e *Enumerator) Submit(ctx context.Context, sub Submission) (*Result, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	if err := e.validator.Struct(sub); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	scope := sub.Course.Title
	if sub.TargetDocumentID != nil {
		scope = sub.TargetDocumentID.String()
	}

	plan, err := BuildPlan(sub.Modules, sub.Course, scope)
	if err != nil {
		return nil, err
	}

	batch, err := domain.NewBatch(sub.Course.Title, sub.TargetDocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	batch.TotalJobs = len(plan.Jobs)

	jobs := make([]*domain.Job, 0, len(plan.Jobs))
	for _, spec := range plan.Jobs {
		job, err := domain.NewJob(batch.ID, sub.TargetDocumentID, spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		jobs = append(jobs, job)
	}

	if sub.TargetDocumentID != nil {
		if err := e.documents.EnsureModules(ctx, *sub.TargetDocumentID, plan.Skeleton); err != nil {
			return nil, fmt.Errorf("failed to prepare target document: %w", err)
		}
	}

	if err := e.jobs.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	log.Info("batch submitted",
		slog.String("batch_id", batch.ID.String()),
		slog.String("course", batch.CourseTitle),
		slog.Int("total_jobs", batch.TotalJobs),
		slog.Int("fallback_modules", len(plan.FallbackModules)))

	event := events.NewEvent(events.BatchSubmitted, batch.ID)
	event.Count = batch.TotalJobs
	if err := e.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("failed to emit batch submitted event", slog.String("error", err.Error()))
	}

	return &Result{
		BatchID:         batch.ID,
		TotalJobs:       batch.TotalJobs,
		Skeleton:        plan.Skeleton,
		FallbackModules: plan.FallbackModules,
	}, nil
}
