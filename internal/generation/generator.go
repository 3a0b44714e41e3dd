package generation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
)

// Request is everything a backend needs to write one subsection.
type Request struct {
	JobID           uuid.UUID
	ModuleTitle     string
	SubsectionTitle string
	// Excerpt is the source text under the subsection heading.
	Excerpt string
	// Context is passed through unchanged from the job record.
	Context json.RawMessage
	// Attempt is the zero-based attempt number of the job.
	Attempt int
}

// NewRequest builds the generation request for a claimed job.
func NewRequest(job *domain.Job) Request {
	return Request{
		JobID:           job.ID,
		ModuleTitle:     job.ModuleIdentifier,
		SubsectionTitle: job.SubsectionTitle,
		Excerpt:         job.ContentExcerpt,
		Context:         job.GenerationContext,
		Attempt:         job.AttemptCount,
	}
}

// Generator produces explanatory content for a single subsection.
// Implementations must honour ctx cancellation; the caller bounds every
// call with a timeout. Errors should wrap the sentinels in errors.go so the
// queue can tell transient failures from permanent rejections.
type Generator interface {
	Generate(ctx context.Context, req Request) (*domain.GeneratedContent, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (*domain.GeneratedContent, error)

// Generate calls f(ctx, req).
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*domain.GeneratedContent, error) {
	return f(ctx, req)
}
