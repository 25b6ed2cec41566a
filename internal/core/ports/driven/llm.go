package driven

import (
	"context"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// LLMService is a chat completion model used for planning, answering and
// profile extraction
type LLMService interface {
	// Complete runs one chat completion over the given messages
	Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (*domain.Completion, error)

	// Model returns the model or deployment name
	Model() string

	// Ping verifies the LLM service is available
	Ping(ctx context.Context) error

	// Close releases resources held by the LLM service
	Close() error
}
