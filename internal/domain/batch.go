package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Validation errors for Batch
var (
	ErrEmptyBatchID    = errors.New("batch ID cannot be empty")
	ErrEmptyBatchTitle = errors.New("batch course title cannot be empty")
)

// Batch groups all jobs produced by one enumeration pass over a course.
type Batch struct {
	ID               uuid.UUID  `json:"id"`
	CourseTitle      string     `json:"course_title"`
	TargetDocumentID *uuid.UUID `json:"target_document_id,omitempty"`
	TotalJobs        int        `json:"total_jobs"`
	CreatedAt        time.Time  `json:"created_at"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

// NewBatch creates a batch for the named course.
func NewBatch(courseTitle string, targetDocumentID *uuid.UUID) (*Batch, error) {
	b := &Batch{
		ID:               uuid.New(),
		CourseTitle:      courseTitle,
		TargetDocumentID: targetDocumentID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks if the Batch has valid data.
func (b *Batch) Validate() error {
	if b.ID == uuid.Nil {
		return ErrEmptyBatchID
	}
	if b.CourseTitle == "" {
		return ErrEmptyBatchTitle
	}
	return nil
}

// IsCancelled reports whether the batch was cancelled.
func (b *Batch) IsCancelled() bool {
	return b.CancelledAt != nil
}

// BatchProgress is the per-status job count of a batch.
// Pending+Processing+Completed+Failed always equals Total.
type BatchProgress struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Pending    int       `json:"pending"`
	Processing int       `json:"processing"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
}

// NewBatchProgress builds a progress summary from a status count map.
func NewBatchProgress(batchID uuid.UUID, counts map[JobStatus]int) BatchProgress {
	p := BatchProgress{
		BatchID:    batchID,
		Pending:    counts[JobStatusPending],
		Processing: counts[JobStatusProcessing],
		Completed:  counts[JobStatusCompleted],
		Failed:     counts[JobStatusFailed],
	}
	p.Total = p.Pending + p.Processing + p.Completed + p.Failed
	return p
}

// Done reports whether every job of the batch reached a terminal state.
func (p BatchProgress) Done() bool {
	return p.Pending == 0 && p.Processing == 0
}
