package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
)

// ModuleRequest is one module of a submission.
type ModuleRequest struct {
	Title   string `json:"title"   validate:"required,max=500"`
	Content string `json:"content" validate:"max=1000000"`
}

// CourseRequest describes the course the batch belongs to.
type CourseRequest struct {
	Title   string            `json:"title"             validate:"required,max=500"`
	Subject string            `json:"subject,omitempty" validate:"max=200"`
	Level   string            `json:"level,omitempty"   validate:"max=200"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// SubmitBatchRequest is the payload of POST /api/batches.
type SubmitBatchRequest struct {
	Course           CourseRequest   `json:"course"`
	Modules          []ModuleRequest `json:"modules"                      validate:"required,min=1,max=200,dive"`
	TargetDocumentID *uuid.UUID      `json:"target_document_id,omitempty"`
}

// toSubmission converts the request to the enumerator's input.
func (r SubmitBatchRequest) toSubmission() enumerate.Submission {
	modules := make([]domain.ModuleInput, len(r.Modules))
	for i, m := range r.Modules {
		modules[i] = domain.ModuleInput{Title: m.Title, Content: m.Content}
	}
	return enumerate.Submission{
		Modules: modules,
		Course: domain.CourseMetadata{
			Title:   r.Course.Title,
			Subject: r.Course.Subject,
			Level:   r.Course.Level,
			Extra:   r.Course.Extra,
		},
		TargetDocumentID: r.TargetDocumentID,
	}
}

// BatchResponse is the body of GET /api/batches/{id}.
type BatchResponse struct {
	domain.BatchProgress
	CourseTitle      string     `json:"course_title"`
	TargetDocumentID *uuid.UUID `json:"target_document_id,omitempty"`
	Done             bool       `json:"done"`
	CreatedAt        time.Time  `json:"created_at"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

// CancelResponse is the body of POST /api/batches/{id}/cancel.
type CancelResponse struct {
	BatchID       uuid.UUID `json:"batch_id"`
	CancelledJobs int       `json:"cancelled_jobs"`
}

// JobResponse is one job in GET /api/batches/{id}/jobs. Claim tokens are
// never exposed.
type JobResponse struct {
	ID               uuid.UUID        `json:"id"`
	ModuleKey        uuid.UUID        `json:"module_key"`
	ModuleIdentifier string           `json:"module_identifier"`
	SubsectionKey    uuid.UUID        `json:"subsection_key"`
	SubsectionTitle  string           `json:"subsection_title"`
	Status           domain.JobStatus `json:"status"`
	AttemptCount     int              `json:"attempt_count"`
	LastError        string           `json:"last_error,omitempty"`
	RetryNotBefore   *time.Time       `json:"retry_not_before,omitempty"`
	TargetDocumentID *uuid.UUID       `json:"target_document_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

func jobToResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:               j.ID,
		ModuleKey:        j.ModuleKey,
		ModuleIdentifier: j.ModuleIdentifier,
		SubsectionKey:    j.SubsectionKey,
		SubsectionTitle:  j.SubsectionTitle,
		Status:           j.Status,
		AttemptCount:     j.AttemptCount,
		LastError:        j.LastError,
		RetryNotBefore:   j.RetryNotBefore,
		TargetDocumentID: j.TargetDocumentID,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// DocumentResponse is the body of GET /api/documents/{id}. Module results
// are listed in subsection order.
type DocumentResponse struct {
	ID      uuid.UUID        `json:"id"`
	BatchID *uuid.UUID       `json:"batch_id,omitempty"`
	Title   string           `json:"title"`
	Modules []ModuleResponse `json:"modules"`
}

// ModuleResponse is one module of a document.
type ModuleResponse struct {
	Key         uuid.UUID                 `json:"key"`
	Index       int                       `json:"index"`
	Title       string                    `json:"title"`
	Subsections []domain.SubsectionResult `json:"subsections"`
}

func documentToResponse(d *domain.CourseDocument) DocumentResponse {
	resp := DocumentResponse{
		ID:      d.ID,
		BatchID: d.BatchID,
		Title:   d.Title,
		Modules: make([]ModuleResponse, 0, len(d.Modules)),
	}
	for i := range d.Modules {
		m := &d.Modules[i]
		resp.Modules = append(resp.Modules, ModuleResponse{
			Key:         m.Key,
			Index:       m.Index,
			Title:       m.Title,
			Subsections: m.OrderedResults(),
		})
	}
	return resp
}
