package driving

import (
	"context"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// AnswerService answers benefit questions from the knowledge base
type AnswerService interface {
	// Answer plans, retrieves and composes a grounded answer.
	// An empty index yields a "not found" answer, not an error.
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error)
}

// ChatService drives the two-phase member conversation
type ChatService interface {
	// Chat collects profile fields until the member confirms them,
	// then answers questions
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}
