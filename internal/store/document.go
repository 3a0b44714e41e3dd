package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
)

// MergeTarget locates the module a subsection result is merged into.
type MergeTarget struct {
	DocumentID uuid.UUID
	ModuleKey  uuid.UUID
}

// DocumentStore defines the interface for course document persistence.
type DocumentStore interface {
	// CreateDocument stores a new, empty course document.
	CreateDocument(ctx context.Context, doc *domain.CourseDocument) error

	// GetDocument returns the document with all modules and merged results.
	// Returns ErrDocumentNotFound if it does not exist.
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.CourseDocument, error)

	// EnsureBatchDocument returns the document owned by the batch, creating
	// it with the given title if none exists. Safe to call concurrently.
	EnsureBatchDocument(ctx context.Context, batchID uuid.UUID, title string) (*domain.CourseDocument, error)

	// EnsureModules adds the missing modules of the skeleton to the document.
	// Existing modules and their results are left untouched.
	// Returns ErrDocumentNotFound if the document does not exist.
	EnsureModules(ctx context.Context, documentID uuid.UUID, modules []domain.ModuleSkeleton) error

	// MergeSubsection upserts result into the target module's results,
	// keyed by result.Key, as one atomic update scoped to that module.
	// Sibling results are never rewritten. Returns ErrDocumentNotFound or
	// ErrModuleNotFound when the target does not exist.
	MergeSubsection(ctx context.Context, target MergeTarget, result domain.SubsectionResult) error
}
