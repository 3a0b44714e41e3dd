package generation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()

	job, err := domain.NewJob(uuid.New(), nil, domain.JobSpec{
		ModuleKey:         uuid.New(),
		ModuleIdentifier:  "Fractions",
		SubsectionKey:     uuid.New(),
		SubsectionTitle:   "Intro",
		ContentExcerpt:    "halves and quarters",
		GenerationContext: json.RawMessage(`{"level":"grade 4"}`),
	})
	require.NoError(t, err)
	job.AttemptCount = 2

	req := generation.NewRequest(job)
	assert.Equal(t, job.ID, req.JobID)
	assert.Equal(t, "Fractions", req.ModuleTitle)
	assert.Equal(t, "Intro", req.SubsectionTitle)
	assert.Equal(t, "halves and quarters", req.Excerpt)
	assert.JSONEq(t, `{"level":"grade 4"}`, string(req.Context))
	assert.Equal(t, 2, req.Attempt)
}

func TestGeneratorFunc(t *testing.T) {
	t.Parallel()

	var g generation.Generator = generation.GeneratorFunc(
		func(_ context.Context, req generation.Request) (*domain.GeneratedContent, error) {
			return &domain.GeneratedContent{Title: req.SubsectionTitle}, nil
		})

	out, err := g.Generate(context.Background(), generation.Request{SubsectionTitle: "Intro"})
	require.NoError(t, err)
	assert.Equal(t, "Intro", out.Title)
}

func TestIsRejection(t *testing.T) {
	t.Parallel()

	assert.True(t, generation.IsRejection(fmt.Errorf("prompt refused: %w", generation.ErrContentBlocked)))
	assert.False(t, generation.IsRejection(generation.ErrTransientFailure))
	assert.False(t, generation.IsRejection(nil))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, generation.IsTransient(fmt.Errorf("gemini: %w", generation.ErrTransientFailure)))
	assert.True(t, generation.IsTransient(fmt.Errorf("generate: %w", context.DeadlineExceeded)))
	assert.False(t, generation.IsTransient(generation.ErrContentBlocked))
	assert.False(t, generation.IsTransient(generation.ErrInvalidResponse))
	assert.False(t, generation.IsTransient(nil))
}
