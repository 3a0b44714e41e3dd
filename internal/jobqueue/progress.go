package jobqueue

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// Progress answers status queries for batches.
type Progress struct {
	jobs store.JobStore
}

// NewProgress creates a Progress.
func NewProgress(jobs store.JobStore) *Progress {
	return &Progress{jobs: jobs}
}

// Status returns the job counts of a batch by status. A batch with no jobs
// is checked for existence so unknown ids yield store.ErrBatchNotFound.
func (p *Progress) Status(ctx context.Context, batchID uuid.UUID) (domain.BatchProgress, error) {
	counts, err := p.jobs.CountByStatus(ctx, batchID)
	if err != nil {
		return domain.BatchProgress{}, err
	}

	progress := domain.NewBatchProgress(batchID, counts)
	if progress.Total == 0 {
		if _, err := p.jobs.GetBatch(ctx, batchID); err != nil {
			return domain.BatchProgress{}, err
		}
	}
	return progress, nil
}
