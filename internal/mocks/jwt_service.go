package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/coursegen/internal/service/auth"
)

// MockJWTService returns canned tokens and claims, and records the tokens
// it was asked to validate.
type MockJWTService struct {
	Token       string
	Err         error
	Claims      *auth.Claims
	ValidateErr error

	mu        sync.Mutex
	validated []string
}

var _ auth.JWTService = (*MockJWTService)(nil)

func (m *MockJWTService) GenerateToken(_ context.Context, subject string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Token == "" {
		return "token-for-" + subject, nil
	}
	return m.Token, nil
}

func (m *MockJWTService) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	m.mu.Lock()
	m.validated = append(m.validated, token)
	m.mu.Unlock()

	if m.ValidateErr != nil {
		return nil, m.ValidateErr
	}
	return m.Claims, nil
}

// Validated returns every token passed to ValidateToken, in call order.
func (m *MockJWTService) Validated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.validated...)
}
