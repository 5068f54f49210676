package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter is the local fallback when no model backend is available.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(_ context.Context, req Request) (string, error) {
	input := strings.TrimSpace(req.InputText)
	if input == "" {
		return "I didn't catch that.", nil
	}
	return fmt.Sprintf("Simulated reply to %q.", input), nil
}
