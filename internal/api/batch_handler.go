package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/api/middleware"
	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/platform/logger"
)

// QueueService is the part of jobqueue.Service the HTTP surface drives.
type QueueService interface {
	Submit(ctx context.Context, sub enumerate.Submission) (*enumerate.Result, error)
	ProcessOne(ctx context.Context, batchID uuid.UUID) (jobqueue.ProcessResult, error)
	Status(ctx context.Context, batchID uuid.UUID) (domain.BatchProgress, error)
	Batch(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error)
	Jobs(ctx context.Context, batchID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error)
	Cancel(ctx context.Context, batchID uuid.UUID) (int, error)
	Document(ctx context.Context, documentID uuid.UUID) (*domain.CourseDocument, error)
}

var _ QueueService = (*jobqueue.Service)(nil)

// BatchHandler handles batch and document HTTP requests.
type BatchHandler struct {
	queue  QueueService
	logger *slog.Logger
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(queue QueueService, logger *slog.Logger) *BatchHandler {
	if queue == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("queue service cannot be nil for BatchHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for BatchHandler")
	}
	return &BatchHandler{
		queue:  queue,
		logger: logger.With(slog.String("component", "batch_handler")),
	}
}

// SubmitBatch handles POST /api/batches. Jobs are only enumerated and
// stored here; generation happens later, so the response is 202.
func (h *BatchHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitBatchRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, shared.ErrBodyTooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	result, err := h.queue.Submit(r.Context(), req.toSubmission())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	subject, _ := middleware.GetSubject(r)
	log.Info("batch submitted",
		slog.String("batch_id", result.BatchID.String()),
		slog.Int("total_jobs", result.TotalJobs),
		slog.String("subject", subject))
	shared.RespondWithJSON(w, r, http.StatusAccepted, result)
}

// GetBatch handles GET /api/batches/{id}.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	batch, err := h.queue.Batch(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	progress, err := h.queue.Status(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get batch progress")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, BatchResponse{
		BatchProgress:    progress,
		CourseTitle:      batch.CourseTitle,
		TargetDocumentID: batch.TargetDocumentID,
		Done:             progress.Done(),
		CreatedAt:        batch.CreatedAt,
		CancelledAt:      batch.CancelledAt,
	})
}

// ProcessOne handles POST /api/batches/{id}/process: the external
// trigger that processes at most one job. A per-job failure is still a
// 200; the result carries the job's new status and error.
func (h *BatchHandler) ProcessOne(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	result, err := h.queue.ProcessOne(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// CancelBatch handles POST /api/batches/{id}/cancel.
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	n, err := h.queue.Cancel(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{BatchID: batchID, CancelledJobs: n})
}

// ListJobs handles GET /api/batches/{id}/jobs?status=.
func (h *BatchHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	status := domain.JobStatus(r.URL.Query().Get("status"))
	jobs, err := h.queue.Jobs(r.Context(), batchID, status)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobToResponse(j))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetDocument handles GET /api/documents/{id}.
func (h *BatchHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	doc, err := h.queue.Document(r.Context(), documentID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, documentToResponse(doc))
}
