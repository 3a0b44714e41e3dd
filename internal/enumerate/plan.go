package enumerate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
)

// keySpace is the root namespace of all surrogate module and subsection keys.
var keySpace = uuid.MustParse("8c0f5a8e-3b1d-5f6a-9c27-4e1b2d7f0a93")

// MaxExcerptRunes bounds the content excerpt carried by a job.
const MaxExcerptRunes = 12000

// Plan is the deterministic expansion of a course into jobs.
type Plan struct {
	Jobs     []domain.JobSpec
	Skeleton []domain.ModuleSkeleton
	// FallbackModules lists modules with no detectable subsections. They
	// produce no jobs and should be generated at module level instead.
	FallbackModules []string
}

// generationContext is the bag handed verbatim to the generation backend.
type generationContext struct {
	Course          string            `json:"course"`
	Subject         string            `json:"subject,omitempty"`
	Level           string            `json:"level,omitempty"`
	ModuleTitle     string            `json:"module_title"`
	SubsectionTitle string            `json:"subsection_title"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ModuleKey derives the surrogate key of a module. scope identifies the
// course (its document ID when known, otherwise its title).
func ModuleKey(scope string, index int, title string) uuid.UUID {
	courseSpace := uuid.NewSHA1(keySpace, []byte(scope))
	return uuid.NewSHA1(courseSpace, []byte(fmt.Sprintf("%d:%s", index, title)))
}

// SubsectionKey derives the surrogate key of a subsection within a module.
func SubsectionKey(moduleKey uuid.UUID, index int, title string) uuid.UUID {
	return uuid.NewSHA1(moduleKey, []byte(fmt.Sprintf("%d:%s", index, title)))
}

// BuildPlan expands modules into job specs. It performs no I/O and returns
// the same plan for the same input.
func BuildPlan(modules []domain.ModuleInput, meta domain.CourseMetadata, scope string) (*Plan, error) {
	if scope == "" {
		scope = meta.Title
	}

	plan := &Plan{
		Skeleton: make([]domain.ModuleSkeleton, 0, len(modules)),
	}
	for mi, m := range modules {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: module %d has no title", domain.ErrValidation, mi)
		}

		moduleKey := ModuleKey(scope, mi, title)
		skeleton := domain.ModuleSkeleton{Key: moduleKey, Index: mi, Title: title}

		sections := DetectSections(m.Content)
		if len(sections) == 0 {
			plan.FallbackModules = append(plan.FallbackModules, title)
		}

		for _, s := range sections {
			subKey := SubsectionKey(moduleKey, s.Index, s.Title)
			skeleton.Subsections = append(skeleton.Subsections, domain.SubsectionSkeleton{
				Key:   subKey,
				Index: s.Index,
				Title: s.Title,
			})

			ctx, err := json.Marshal(generationContext{
				Course:          meta.Title,
				Subject:         meta.Subject,
				Level:           meta.Level,
				ModuleTitle:     title,
				SubsectionTitle: s.Title,
				Extra:           meta.Extra,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode generation context: %w", err)
			}

			plan.Jobs = append(plan.Jobs, domain.JobSpec{
				ModuleKey:         moduleKey,
				ModuleIdentifier:  title,
				ModuleIndex:       mi,
				SubsectionKey:     subKey,
				SubsectionTitle:   s.Title,
				SubsectionIndex:   s.Index,
				ContentExcerpt:    truncateRunes(s.Excerpt, MaxExcerptRunes),
				GenerationContext: ctx,
			})
		}
		plan.Skeleton = append(plan.Skeleton, skeleton)
	}
	return plan, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
