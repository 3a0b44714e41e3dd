package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp *genai.GenerateContentResponse
	err  error

	model  string
	prompt string
	config *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompt += p.Text
		}
	}
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{ModelName: "gemini-test", Temperature: 0.3}
}

func testRequest() generation.Request {
	return generation.Request{
		JobID:           uuid.New(),
		ModuleTitle:     "Fractions",
		SubsectionTitle: "Intro",
		Excerpt:         "A fraction names part of a whole.",
		Context:         json.RawMessage(`{"course":"Math","level":"grade 4"}`),
	}
}

func newTestGenerator(t *testing.T, models contentModel) *GeminiGenerator {
	t.Helper()
	_, log := logger.NewTestLogger()
	g, err := newGenerator(log, testConfig(), models)
	require.NoError(t, err)
	return g
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	models := &fakeModels{resp: textResponse(
		`{"title":"Intro to Fractions","pages":[{"title":"Parts","body":"Halves and quarters."}]}`)}
	g := newTestGenerator(t, models)

	content, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Intro to Fractions", content.Title)
	require.Len(t, content.Pages, 1)
	assert.Equal(t, "Halves and quarters.", content.Pages[0].Body)

	assert.Equal(t, "gemini-test", models.model)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
	require.NotNil(t, models.config.Temperature)
	assert.InDelta(t, 0.3, *models.config.Temperature, 0.0001)
	assert.Contains(t, models.prompt, "Module: Fractions")
	assert.Contains(t, models.prompt, "A fraction names part of a whole.")
	assert.Contains(t, models.prompt, `"level": "grade 4"`)
}

func TestGenerate_FencedJSONAndMissingTitle(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, &fakeModels{resp: textResponse(
		"```json\n{\"pages\":[{\"body\":\"Halves.\"}]}\n```")})

	content, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Intro", content.Title)
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		models *fakeModels
		want   error
	}{
		{
			name:   "rate limited",
			models: &fakeModels{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}},
			want:   generation.ErrTransientFailure,
		},
		{
			name:   "server error",
			models: &fakeModels{err: genai.APIError{Code: 503}},
			want:   generation.ErrTransientFailure,
		},
		{
			name:   "network error",
			models: &fakeModels{err: errors.New("connection reset")},
			want:   generation.ErrTransientFailure,
		},
		{
			name:   "bad request",
			models: &fakeModels{err: genai.APIError{Code: 400, Message: "invalid argument"}},
			want:   generation.ErrGenerationFailed,
		},
		{
			name: "safety block",
			models: &fakeModels{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			}},
			want: generation.ErrContentBlocked,
		},
		{
			name: "prompt blocked",
			models: &fakeModels{resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
			}},
			want: generation.ErrContentBlocked,
		},
		{
			name:   "no candidates",
			models: &fakeModels{resp: &genai.GenerateContentResponse{}},
			want:   generation.ErrInvalidResponse,
		},
		{
			name:   "not json",
			models: &fakeModels{resp: textResponse("Sure! Here is your content.")},
			want:   generation.ErrInvalidResponse,
		},
		{
			name:   "empty page",
			models: &fakeModels{resp: textResponse(`{"title":"Intro","pages":[{"body":""}]}`)},
			want:   generation.ErrInvalidResponse,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := newTestGenerator(t, tc.models)
			_, err := g.Generate(context.Background(), testRequest())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGenerate_CancelledContextIsTransient(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestGenerator(t, &fakeModels{err: context.Canceled})
	_, err := g.Generate(ctx, testRequest())
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
}

func TestGenerate_EmptySubsection(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, &fakeModels{})
	req := testRequest()
	req.SubsectionTitle = " "
	_, err := g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)
}

func TestNewGenerator_Config(t *testing.T) {
	t.Parallel()
	_, log := logger.NewTestLogger()

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewGeminiGenerator(context.Background(), log, testConfig())
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := newGenerator(log, config.LLMConfig{}, &fakeModels{})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := newGenerator(nil, testConfig(), &fakeModels{})
		assert.Error(t, err)
	})

	t.Run("missing template file", func(t *testing.T) {
		cfg := testConfig()
		cfg.PromptTemplatePath = filepath.Join(t.TempDir(), "absent.tmpl")
		_, err := newGenerator(log, cfg, &fakeModels{})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("malformed template", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("{{.Excerpt"), 0o600))
		cfg := testConfig()
		cfg.PromptTemplatePath = path
		_, err := newGenerator(log, cfg, &fakeModels{})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("custom template", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("Explain {{.SubsectionTitle}} in {{.ModuleTitle}}"), 0o600))
		cfg := testConfig()
		cfg.PromptTemplatePath = path

		models := &fakeModels{resp: textResponse(`{"title":"x","pages":[{"body":"y"}]}`)}
		g, err := newGenerator(log, cfg, models)
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, "Explain Intro in Fractions", strings.TrimSpace(models.prompt))
	})
}
