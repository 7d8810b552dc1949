package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scry-batch/internal/domain"
)

// Generator defines the interface for producing output for a single item.
// This interface serves as a boundary between the batch runner and external
// AI/LLM services.
type Generator interface {
	// Generate produces the output for one item.
	//
	// Implementations must not retry internally; retrying and pacing are the
	// caller's concern. Errors should wrap one of the sentinels in errors.go so
	// that callers can classify them with IsRetryable.
	Generate(ctx context.Context, item domain.Item) (json.RawMessage, error)
}

// GeneratorFunc adapts an ordinary function to the Generator interface.
type GeneratorFunc func(ctx context.Context, item domain.Item) (json.RawMessage, error)

// Generate calls f(ctx, item).
func (f GeneratorFunc) Generate(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	return f(ctx, item)
}
