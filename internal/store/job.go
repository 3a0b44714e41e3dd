package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
)

// FailureOutcome tells MarkFailedOrRequeue how to finish a failed claim.
type FailureOutcome struct {
	// Requeue returns the job to pending with attempt_count incremented.
	// When false the job becomes terminally failed.
	Requeue bool

	// RetryDelay is added to the store's clock to set retry_not_before.
	RetryDelay time.Duration

	// Uncharged requeues without incrementing attempt_count. It is used
	// when the attempt was interrupted by the dispatcher going away rather
	// than failed by the backend. Only meaningful with Requeue.
	Uncharged bool
}

// RetryDelayFunc returns the backoff before the given requeue (1-based).
type RetryDelayFunc func(attempt int) time.Duration

// Of returns the delay for attempt, or zero when f is nil.
func (f RetryDelayFunc) Of(attempt int) time.Duration {
	if f == nil {
		return 0
	}
	return f(attempt)
}

// SweepResult reports what a lease sweep did.
type SweepResult struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// JobStore defines the interface for generation job persistence.
//
// ClaimNext is the only compare-and-swap style operation. Every post-claim
// update is guarded by the domain.Claim the worker received and returns
// ErrClaimLost when the job is no longer held by it.
type JobStore interface {
	// CreateBatch durably stores the batch and all of its jobs, atomically.
	CreateBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error

	// InsertMany adds jobs to an existing batch, atomically.
	InsertMany(ctx context.Context, jobs []*domain.Job) error

	// GetBatch returns ErrBatchNotFound if the batch does not exist.
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error)

	// ListActiveBatches returns the ids of non-cancelled batches that still
	// have pending or processing jobs, oldest first.
	ListActiveBatches(ctx context.Context) ([]uuid.UUID, error)

	// ClaimNext atomically moves the oldest claimable pending job of the
	// batch to processing, sets started_at, a fresh claim token and a lease
	// of the given length, and returns it. A job is claimable when its
	// retry_not_before is unset or has elapsed. Returns ErrNoJobAvailable
	// when nothing qualifies.
	ClaimNext(ctx context.Context, batchID uuid.UUID, lease time.Duration) (*domain.Job, error)

	// ExtendLease pushes the lease of a held claim forward.
	ExtendLease(ctx context.Context, claim domain.Claim, lease time.Duration) error

	// MarkCompleted moves a held job to completed, records the document the
	// result was merged into and clears last_error.
	MarkCompleted(ctx context.Context, claim domain.Claim, documentID uuid.UUID) error

	// MarkFailedOrRequeue records errMsg as last_error and either requeues
	// the job or fails it, per outcome. Jobs of a cancelled batch are
	// failed regardless of outcome. Returns the resulting status.
	MarkFailedOrRequeue(
		ctx context.Context,
		claim domain.Claim,
		errMsg string,
		outcome FailureOutcome,
	) (domain.JobStatus, error)

	// CountByStatus returns the number of jobs of the batch in each status,
	// read in a single statement.
	CountByStatus(ctx context.Context, batchID uuid.UUID) (map[domain.JobStatus]int, error)

	// GetJob returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListJobs returns the jobs of a batch in claim order, optionally
	// filtered by status (empty status means all).
	ListJobs(ctx context.Context, batchID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error)

	// RequeueExpiredLeases finds processing jobs whose lease has expired and
	// applies the retry rule to them: requeue with attempt_count+1 and
	// retry_not_before = now+delay(attempt_count+1) while
	// attempt_count < budget, terminal failure otherwise.
	RequeueExpiredLeases(ctx context.Context, budget int, delay RetryDelayFunc) (SweepResult, error)

	// CancelBatch marks the batch cancelled and fails its pending jobs with
	// last_error "batch cancelled". Processing jobs are left to finish.
	// Returns the number of jobs cancelled.
	CancelBatch(ctx context.Context, batchID uuid.UUID) (int, error)
}

// CancelledJobError is the last_error recorded on jobs failed by CancelBatch.
const CancelledJobError = "batch cancelled"
