package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// promptData represents the data passed to the prompt template
type promptData struct {
	ModuleTitle     string
	SubsectionTitle string
	Excerpt         string
	// Context is the job's generation context, indented for readability.
	Context string
}

// ResponseSchema represents the JSON document the model is asked to return
type ResponseSchema struct {
	// Title is the heading of the generated subsection
	Title string `json:"title"`

	// Pages holds the explanatory content, one entry per page
	Pages []PageSchema `json:"pages"`
}

// PageSchema represents a single page in the API response
type PageSchema struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// toDomain validates the response and converts it to generated content.
func (r *ResponseSchema) toDomain() (*domain.GeneratedContent, error) {
	content := &domain.GeneratedContent{
		Title: r.Title,
		Pages: make([]domain.ContentPage, 0, len(r.Pages)),
	}
	for _, p := range r.Pages {
		content.Pages = append(content.Pages, domain.ContentPage{Title: p.Title, Body: p.Body})
	}
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}
	return content, nil
}

func indentContext(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
