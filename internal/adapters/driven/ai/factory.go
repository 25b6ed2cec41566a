package ai

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Option configures a model client
type Option func(*options)

type options struct {
	limiter *rate.Limiter
}

// WithRateLimiter paces outgoing requests through limiter
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Factory creates AI services based on configuration.
// All clients it creates share one request limiter.
type Factory struct {
	limiter *rate.Limiter
}

// NewFactory creates a new AI service factory. requestsPerSecond <= 0
// disables pacing.
func NewFactory(requestsPerSecond float64) *Factory {
	f := &Factory{}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return f
}

// CreateEmbeddingService creates an embedding service from settings
func (f *Factory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI, domain.AIProviderAzure:
		svc, err := NewOpenAIEmbedding(settings, WithRateLimiter(f.limiter))
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}

// CreateLLMService creates an LLM service from settings
func (f *Factory) CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI, domain.AIProviderAzure:
		svc, err := NewOpenAILLM(settings, WithRateLimiter(f.limiter))
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}
