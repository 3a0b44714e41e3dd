package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// JobStoreStub wraps a store.JobStore and lets tests override single
// methods. Methods without an override delegate to the wrapped store.
type JobStoreStub struct {
	store.JobStore

	ClaimNextFn           func(ctx context.Context, batchID uuid.UUID, lease time.Duration) (*domain.Job, error)
	ExtendLeaseFn         func(ctx context.Context, claim domain.Claim, lease time.Duration) error
	MarkCompletedFn       func(ctx context.Context, claim domain.Claim, documentID uuid.UUID) error
	MarkFailedOrRequeueFn func(ctx context.Context, claim domain.Claim, errMsg string, outcome store.FailureOutcome) (domain.JobStatus, error)
	CountByStatusFn       func(ctx context.Context, batchID uuid.UUID) (map[domain.JobStatus]int, error)
}

// ClaimNext implements store.JobStore
func (s *JobStoreStub) ClaimNext(ctx context.Context, batchID uuid.UUID, lease time.Duration) (*domain.Job, error) {
	if s.ClaimNextFn != nil {
		return s.ClaimNextFn(ctx, batchID, lease)
	}
	return s.JobStore.ClaimNext(ctx, batchID, lease)
}

// ExtendLease implements store.JobStore
func (s *JobStoreStub) ExtendLease(ctx context.Context, claim domain.Claim, lease time.Duration) error {
	if s.ExtendLeaseFn != nil {
		return s.ExtendLeaseFn(ctx, claim, lease)
	}
	return s.JobStore.ExtendLease(ctx, claim, lease)
}

// MarkCompleted implements store.JobStore
func (s *JobStoreStub) MarkCompleted(ctx context.Context, claim domain.Claim, documentID uuid.UUID) error {
	if s.MarkCompletedFn != nil {
		return s.MarkCompletedFn(ctx, claim, documentID)
	}
	return s.JobStore.MarkCompleted(ctx, claim, documentID)
}

// MarkFailedOrRequeue implements store.JobStore
func (s *JobStoreStub) MarkFailedOrRequeue(
	ctx context.Context,
	claim domain.Claim,
	errMsg string,
	outcome store.FailureOutcome,
) (domain.JobStatus, error) {
	if s.MarkFailedOrRequeueFn != nil {
		return s.MarkFailedOrRequeueFn(ctx, claim, errMsg, outcome)
	}
	return s.JobStore.MarkFailedOrRequeue(ctx, claim, errMsg, outcome)
}

// CountByStatus implements store.JobStore
func (s *JobStoreStub) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[domain.JobStatus]int, error) {
	if s.CountByStatusFn != nil {
		return s.CountByStatusFn(ctx, batchID)
	}
	return s.JobStore.CountByStatus(ctx, batchID)
}

// DocumentStoreStub wraps a store.DocumentStore and lets tests override
// MergeSubsection.
type DocumentStoreStub struct {
	store.DocumentStore

	MergeSubsectionFn func(ctx context.Context, target store.MergeTarget, result domain.SubsectionResult) error
}

// MergeSubsection implements store.DocumentStore
func (s *DocumentStoreStub) MergeSubsection(
	ctx context.Context,
	target store.MergeTarget,
	result domain.SubsectionResult,
) error {
	if s.MergeSubsectionFn != nil {
		return s.MergeSubsectionFn(ctx, target, result)
	}
	return s.DocumentStore.MergeSubsection(ctx, target, result)
}
