package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, item domain.Item) (json.RawMessage, error)

	// Default response values
	Output json.RawMessage
	Err    error

	// mu protects the call tracking state for concurrent workers
	mu    sync.Mutex
	calls map[string]int
	total int
}

// Generate implements the generation.Generator interface
func (m *MockGenerator) Generate(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[item.ID]++
	m.total++
	m.mu.Unlock()

	// Use custom function if provided
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, item)
	}

	// Return default values
	return m.Output, m.Err
}

// Calls returns how many times Generate was called for an item.
func (m *MockGenerator) Calls(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[itemID]
}

// TotalCalls returns how many times Generate was called overall.
func (m *MockGenerator) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// NewMockGeneratorWithOutput creates a MockGenerator that always succeeds.
func NewMockGeneratorWithOutput(output json.RawMessage) *MockGenerator {
	return &MockGenerator{
		Output: output,
	}
}

// NewMockGeneratorWithError creates a MockGenerator that returns the specified error
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{
		Err: err,
	}
}

// MockGeneratorWithTransientFailure creates a MockGenerator that never recovers
// from a transient failure
func MockGeneratorWithTransientFailure() *MockGenerator {
	return &MockGenerator{
		Err: generation.ErrTransientFailure,
	}
}

// MockGeneratorFailingFor creates a MockGenerator that fails permanently for
// the given item ids and echoes the item id as output for every other item.
func MockGeneratorFailingFor(failing ...string) *MockGenerator {
	set := make(map[string]struct{}, len(failing))
	for _, id := range failing {
		set[id] = struct{}{}
	}

	return &MockGenerator{
		GenerateFn: func(_ context.Context, item domain.Item) (json.RawMessage, error) {
			if _, ok := set[item.ID]; ok {
				return nil, generation.ErrInvalidResponse
			}
			out, err := json.Marshal(map[string]string{"item_id": item.ID})
			return out, err
		},
	}
}

// TransientThenSuccess returns a GenerateFn that fails transiently for the
// first n calls per item and then succeeds.
func TransientThenSuccess(n int) func(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	var mu sync.Mutex
	seen := make(map[string]int)

	return func(_ context.Context, item domain.Item) (json.RawMessage, error) {
		mu.Lock()
		seen[item.ID]++
		count := seen[item.ID]
		mu.Unlock()

		if count <= n {
			return nil, generation.ErrTransientFailure
		}
		return json.RawMessage(`{"ok":true}`), nil
	}
}

var _ generation.Generator = (*MockGenerator)(nil)
