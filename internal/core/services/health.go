package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

// Health component names
const (
	ComponentVectorIndex = "vector_index"
	ComponentEmbedding   = "embedding"
	ComponentLLM         = "llm"
)

// Ensure healthService implements HealthService
var _ driving.HealthService = (*healthService)(nil)

type healthService struct {
	index    driven.VectorIndex
	services *runtime.Services
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewHealthService creates a HealthService. Each probe gets its own timeout.
func NewHealthService(index driven.VectorIndex, services *runtime.Services, timeout time.Duration, logger *zap.Logger) driving.HealthService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &healthService{
		index:    index,
		services: services,
		timeout:  timeout,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Check probes every component. All down is unhealthy; any down is degraded.
func (s *healthService) Check(ctx context.Context) *domain.HealthReport {
	components := map[string]domain.ComponentHealth{
		ComponentVectorIndex: s.probe(ctx, ComponentVectorIndex, s.index.HealthCheck),
		ComponentEmbedding: s.probe(ctx, ComponentEmbedding, func(ctx context.Context) error {
			emb := s.services.EmbeddingService()
			if emb == nil {
				return domain.ErrServiceUnavailable
			}
			return emb.HealthCheck(ctx)
		}),
		ComponentLLM: s.probe(ctx, ComponentLLM, func(ctx context.Context) error {
			llm := s.services.LLMService()
			if llm == nil {
				return domain.ErrServiceUnavailable
			}
			return llm.Ping(ctx)
		}),
	}

	down := 0
	for _, c := range components {
		if c.Status != domain.HealthHealthy {
			down++
		}
	}
	status := domain.HealthHealthy
	switch {
	case down == len(components):
		status = domain.HealthUnhealthy
	case down > 0:
		status = domain.HealthDegraded
	}

	return &domain.HealthReport{
		Status:     status,
		Timestamp:  s.now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

func (s *healthService) probe(ctx context.Context, name string, fn func(ctx context.Context) error) domain.ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn("health probe failed", zap.String("component", name), zap.Error(err))
		return domain.ComponentHealth{Status: domain.HealthUnhealthy, Message: err.Error()}
	}
	return domain.ComponentHealth{Status: domain.HealthHealthy}
}

// Ready returns nil once the index is reachable and holds records
func (s *healthService) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: index is empty", domain.ErrIndexUnavailable)
	}
	return nil
}
