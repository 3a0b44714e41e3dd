package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Validation errors for Job
var (
	ErrEmptyJobID           = errors.New("job ID cannot be empty")
	ErrEmptyJobBatchID      = errors.New("job batch ID cannot be empty")
	ErrEmptyModuleKey       = errors.New("job module key cannot be empty")
	ErrEmptyModuleTitle     = errors.New("job module identifier cannot be empty")
	ErrEmptySubsectionKey   = errors.New("job subsection key cannot be empty")
	ErrEmptySubsectionTitle = errors.New("job subsection title cannot be empty")
	ErrNegativeIndex        = errors.New("job module and subsection indexes must not be negative")
	ErrNegativeAttemptCount = errors.New("job attempt count must not be negative")
	ErrInvalidContext       = errors.New("job generation context must be valid JSON")
)

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the job lifecycle permits moving from s to next.
//
//	pending    -> processing            (claim)
//	processing -> completed | failed    (worker outcome)
//	processing -> pending               (retriable failure or expired lease)
//	pending    -> failed                (batch cancellation)
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusPending || next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// Job is the unit of work of the queue: generate the content of one
// subsection of one module and merge it into the target document.
//
// Module and subsection keys are surrogate identifiers assigned at
// enumeration time. Titles are kept for display and for the prompt.
type Job struct {
	ID      uuid.UUID `json:"id"`
	BatchID uuid.UUID `json:"batch_id"`
	// Seq is the insertion ordinal of the job inside the store. Claims are
	// FIFO on (created_at, seq).
	Seq int64 `json:"seq"`

	TargetDocumentID *uuid.UUID `json:"target_document_id,omitempty"`

	ModuleKey        uuid.UUID `json:"module_key"`
	ModuleIdentifier string    `json:"module_identifier"`
	ModuleIndex      int       `json:"module_index"`

	SubsectionKey   uuid.UUID `json:"subsection_key"`
	SubsectionTitle string    `json:"subsection_title"`
	SubsectionIndex int       `json:"subsection_index"`

	ContentExcerpt    string          `json:"content_excerpt"`
	GenerationContext json.RawMessage `json:"generation_context"`

	Status         JobStatus  `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	LastError      string     `json:"last_error,omitempty"`
	RetryNotBefore *time.Time `json:"retry_not_before,omitempty"`

	// Claim ownership. Set by a claim, cleared on requeue or completion.
	ClaimToken     uuid.UUID  `json:"-"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobSpec holds the enumerator-provided fields of a new job.
type JobSpec struct {
	ModuleKey         uuid.UUID
	ModuleIdentifier  string
	ModuleIndex       int
	SubsectionKey     uuid.UUID
	SubsectionTitle   string
	SubsectionIndex   int
	ContentExcerpt    string
	GenerationContext json.RawMessage
}

// NewJob creates a pending job in the given batch.
// Returns an error if validation fails.
func NewJob(batchID uuid.UUID, targetDocumentID *uuid.UUID, spec JobSpec) (*Job, error) {
	now := time.Now().UTC()
	generationContext := spec.GenerationContext
	if len(generationContext) == 0 {
		generationContext = json.RawMessage(`{}`)
	}

	job := &Job{
		ID:                uuid.New(),
		BatchID:           batchID,
		TargetDocumentID:  targetDocumentID,
		ModuleKey:         spec.ModuleKey,
		ModuleIdentifier:  spec.ModuleIdentifier,
		ModuleIndex:       spec.ModuleIndex,
		SubsectionKey:     spec.SubsectionKey,
		SubsectionTitle:   spec.SubsectionTitle,
		SubsectionIndex:   spec.SubsectionIndex,
		ContentExcerpt:    spec.ContentExcerpt,
		GenerationContext: generationContext,
		Status:            JobStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	switch {
	case j.ID == uuid.Nil:
		return ErrEmptyJobID
	case j.BatchID == uuid.Nil:
		return ErrEmptyJobBatchID
	case j.ModuleKey == uuid.Nil:
		return ErrEmptyModuleKey
	case j.ModuleIdentifier == "":
		return ErrEmptyModuleTitle
	case j.SubsectionKey == uuid.Nil:
		return ErrEmptySubsectionKey
	case j.SubsectionTitle == "":
		return ErrEmptySubsectionTitle
	case j.ModuleIndex < 0 || j.SubsectionIndex < 0:
		return ErrNegativeIndex
	case j.AttemptCount < 0:
		return ErrNegativeAttemptCount
	case !j.Status.IsValid():
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	case len(j.GenerationContext) > 0 && !json.Valid(j.GenerationContext):
		return ErrInvalidContext
	}
	return nil
}

// Claim describes the ownership a worker holds over a processing job.
// Post-claim updates are guarded by both the job ID and the token so a
// worker whose lease was swept cannot overwrite a newer claim.
type Claim struct {
	JobID uuid.UUID
	Token uuid.UUID
}

// Claim returns the claim currently held on the job.
func (j *Job) Claim() Claim {
	return Claim{JobID: j.ID, Token: j.ClaimToken}
}
