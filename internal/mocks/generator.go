package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, req generation.Request) (*domain.GeneratedContent, error)

	// Script maps a subsection title to the errors returned by successive
	// calls for it. Once a title's errors are used up, calls succeed.
	Script map[string][]error

	// Default response values
	Content *domain.GeneratedContent
	Err     error

	mu       sync.Mutex
	requests []generation.Request
	served   map[string]int
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements the generation.Generator interface
func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) (*domain.GeneratedContent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var scripted error
	if errs, ok := m.Script[req.SubsectionTitle]; ok {
		if m.served == nil {
			m.served = make(map[string]int)
		}
		if n := m.served[req.SubsectionTitle]; n < len(errs) {
			scripted = errs[n]
		}
		m.served[req.SubsectionTitle]++
	}
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if scripted != nil {
		return nil, scripted
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Content != nil {
		return m.Content, nil
	}
	return DefaultContent(req.SubsectionTitle), nil
}

// Calls returns the number of Generate calls so far.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CallsFor returns the number of Generate calls for one subsection.
func (m *MockGenerator) CallsFor(subsection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.SubsectionTitle == subsection {
			n++
		}
	}
	return n
}

// Requests returns a copy of every request received.
func (m *MockGenerator) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

// Reset clears the call tracking state
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.served = nil
}

// DefaultContent is the content a MockGenerator returns for a subsection
// when nothing else is configured.
func DefaultContent(subsection string) *domain.GeneratedContent {
	return &domain.GeneratedContent{
		Title: subsection,
		Pages: []domain.ContentPage{{Title: subsection, Body: "Generated explanation of " + subsection + "."}},
	}
}

// NewMockGeneratorWithError creates a MockGenerator that always fails with err
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}

// MockGeneratorWithTransientFailure creates a MockGenerator that simulates a transient failure
func MockGeneratorWithTransientFailure() *MockGenerator {
	return &MockGenerator{Err: generation.ErrTransientFailure}
}

// MockGeneratorWithContentBlocked creates a MockGenerator that simulates content being blocked
func MockGeneratorWithContentBlocked() *MockGenerator {
	return &MockGenerator{Err: generation.ErrContentBlocked}
}
