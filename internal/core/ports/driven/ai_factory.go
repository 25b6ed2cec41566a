package driven

import (
	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// AIServiceFactory creates model clients from settings
type AIServiceFactory interface {
	// CreateEmbeddingService returns nil, nil if settings are not configured
	CreateEmbeddingService(settings *domain.EmbeddingSettings) (EmbeddingService, error)

	// CreateLLMService returns nil, nil if settings are not configured
	CreateLLMService(settings *domain.LLMSettings) (LLMService, error)
}
