package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// MergeWriter applies generated subsections to their course document.
type MergeWriter struct {
	jobs      store.JobStore
	documents store.DocumentStore
	now       func() time.Time
}

// NewMergeWriter creates a MergeWriter.
func NewMergeWriter(jobs store.JobStore, documents store.DocumentStore) *MergeWriter {
	return &MergeWriter{
		jobs:      jobs,
		documents: documents,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Merge writes content as the job's subsection and returns the document
// it landed in. The write is an upsert keyed by subsection key, so merging
// the same job twice leaves a single entry.
//
// The target is the job's document, else the batch's. A batch without one
// gets its own document, created on first merge together with the job's
// module. Explicit targets are never extended: a missing document or module
// there is returned as an error matching store.IsMergeTargetMissing.
func (m *MergeWriter) Merge(ctx context.Context, job *domain.Job, content *domain.GeneratedContent) (uuid.UUID, error) {
	target, err := m.resolveTarget(ctx, job)
	if err != nil {
		return uuid.Nil, err
	}

	result := domain.SubsectionResult{
		Key:      job.SubsectionKey,
		Title:    job.SubsectionTitle,
		Index:    job.SubsectionIndex,
		JobID:    job.ID,
		Content:  *content,
		MergedAt: m.now(),
	}
	if err := m.documents.MergeSubsection(ctx, target, result); err != nil {
		return uuid.Nil, fmt.Errorf("merge subsection %q of module %q: %w",
			job.SubsectionTitle, job.ModuleIdentifier, err)
	}
	return target.DocumentID, nil
}

func (m *MergeWriter) resolveTarget(ctx context.Context, job *domain.Job) (store.MergeTarget, error) {
	if job.TargetDocumentID != nil {
		return store.MergeTarget{DocumentID: *job.TargetDocumentID, ModuleKey: job.ModuleKey}, nil
	}

	batch, err := m.jobs.GetBatch(ctx, job.BatchID)
	if err != nil {
		return store.MergeTarget{}, fmt.Errorf("load batch %s: %w", job.BatchID, err)
	}
	if batch.TargetDocumentID != nil {
		return store.MergeTarget{DocumentID: *batch.TargetDocumentID, ModuleKey: job.ModuleKey}, nil
	}

	doc, err := m.documents.EnsureBatchDocument(ctx, batch.ID, batch.CourseTitle)
	if err != nil {
		return store.MergeTarget{}, fmt.Errorf("create document for batch %s: %w", batch.ID, err)
	}
	module := domain.ModuleSkeleton{Key: job.ModuleKey, Index: job.ModuleIndex, Title: job.ModuleIdentifier}
	if err := m.documents.EnsureModules(ctx, doc.ID, []domain.ModuleSkeleton{module}); err != nil {
		return store.MergeTarget{}, fmt.Errorf("create module %q: %w", job.ModuleIdentifier, err)
	}
	return store.MergeTarget{DocumentID: doc.ID, ModuleKey: job.ModuleKey}, nil
}
