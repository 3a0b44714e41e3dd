package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Validation errors for generated content
var (
	ErrEmptyGeneratedTitle = errors.New("generated content title cannot be empty")
	ErrNoGeneratedPages    = errors.New("generated content must have at least one page")
	ErrEmptyPageBody       = errors.New("generated page body cannot be empty")
)

// ContentPage is one page of generated explanatory content.
type ContentPage struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// GeneratedContent is the result a generation backend returns for one subsection.
type GeneratedContent struct {
	Title string        `json:"title"`
	Pages []ContentPage `json:"pages"`
}

// Validate checks the generated content has a title and non-empty pages.
func (c *GeneratedContent) Validate() error {
	if c.Title == "" {
		return ErrEmptyGeneratedTitle
	}
	if len(c.Pages) == 0 {
		return ErrNoGeneratedPages
	}
	for _, p := range c.Pages {
		if p.Body == "" {
			return ErrEmptyPageBody
		}
	}
	return nil
}

// SubsectionResult is a generated subsection as stored in the document.
// Results are keyed by SubsectionKey, so merging the same subsection twice
// replaces the earlier entry.
type SubsectionResult struct {
	Key      uuid.UUID        `json:"key"`
	Title    string           `json:"title"`
	Index    int              `json:"index"`
	JobID    uuid.UUID        `json:"job_id"`
	Content  GeneratedContent `json:"content"`
	MergedAt time.Time        `json:"merged_at"`
}

// ModuleSkeleton is the shape of one module before any content is generated.
type ModuleSkeleton struct {
	Key         uuid.UUID            `json:"key"`
	Index       int                  `json:"index"`
	Title       string               `json:"title"`
	Subsections []SubsectionSkeleton `json:"subsections"`
}

// SubsectionSkeleton is one detected subsection of a module.
type SubsectionSkeleton struct {
	Key   uuid.UUID `json:"key"`
	Index int       `json:"index"`
	Title string    `json:"title"`
}

// DocumentModule is a module inside a course document.
type DocumentModule struct {
	Key   uuid.UUID `json:"key"`
	Index int       `json:"index"`
	Title string    `json:"title"`
	// Results maps subsection key to its generated result. A nil map means
	// no subsection of the module has been merged yet.
	Results map[uuid.UUID]SubsectionResult `json:"results,omitempty"`
}

// OrderedResults returns the module's results ordered by subsection index.
func (m *DocumentModule) OrderedResults() []SubsectionResult {
	out := make([]SubsectionResult, 0, len(m.Results))
	for _, r := range m.Results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// CourseDocument is the hierarchical course the queue writes into.
type CourseDocument struct {
	ID        uuid.UUID        `json:"id"`
	BatchID   *uuid.UUID       `json:"batch_id,omitempty"`
	Title     string           `json:"title"`
	Modules   []DocumentModule `json:"modules"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewCourseDocument creates an empty document.
func NewCourseDocument(title string, batchID *uuid.UUID) (*CourseDocument, error) {
	if title == "" {
		return nil, ErrEmptyBatchTitle
	}
	now := time.Now().UTC()
	return &CourseDocument{
		ID:        uuid.New(),
		BatchID:   batchID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Module returns the module with the given key, or nil.
func (d *CourseDocument) Module(key uuid.UUID) *DocumentModule {
	for i := range d.Modules {
		if d.Modules[i].Key == key {
			return &d.Modules[i]
		}
	}
	return nil
}

// ModuleInput is one module as supplied by the authoring side: a title and
// raw content whose headings delimit subsections.
type ModuleInput struct {
	Title   string `json:"title" yaml:"title" validate:"required"`
	Content string `json:"content" yaml:"content"`
}

// CourseMetadata describes the course a batch generates content for. It is
// folded into each job's generation context and never interpreted by the queue.
type CourseMetadata struct {
	Title   string            `json:"title" yaml:"title" validate:"required"`
	Subject string            `json:"subject,omitempty" yaml:"subject"`
	Level   string            `json:"level,omitempty" yaml:"level"`
	Extra   map[string]string `json:"extra,omitempty" yaml:"extra"`
}
