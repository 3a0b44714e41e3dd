package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
	"gopkg.in/yaml.v3"
)

// courseFile is the on-disk form of a submission. JSON files parse too.
//
//	course:
//	  title: Algebra I
//	  level: beginner
//	modules:
//	  - title: Fractions
//	    content: |
//	      ## Intro
//	      ...
type courseFile struct {
	Course           domain.CourseMetadata `yaml:"course"`
	Modules          []domain.ModuleInput  `yaml:"modules"`
	TargetDocumentID string                `yaml:"target_document_id"`
}

func readCourseFile(path string) (*courseFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course file: %w", err)
	}
	var f courseFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse course file %s: %w", path, err)
	}
	return &f, nil
}

// submission converts the file, letting override replace its target
// document.
func (f *courseFile) submission(override string) (enumerate.Submission, error) {
	sub := enumerate.Submission{Course: f.Course, Modules: f.Modules}

	target := f.TargetDocumentID
	if override != "" {
		target = override
	}
	if target != "" {
		id, err := uuid.Parse(target)
		if err != nil {
			return enumerate.Submission{}, fmt.Errorf("invalid target document id %q: %w", target, err)
		}
		sub.TargetDocumentID = &id
	}
	return sub, nil
}
