package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/metrics"
)

// RetryPolicy bounds retries of transient upstream failures
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 2s to 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Guard caps in-flight upstream calls and retries transient failures.
// One Guard is shared by every model client in the process.
type Guard struct {
	sem    *semaphore.Weighted
	limit  int64
	policy RetryPolicy
	logger *zap.Logger
}

// NewGuard creates a Guard allowing maxConcurrent calls at once
func NewGuard(maxConcurrent int64, policy RetryPolicy, logger *zap.Logger) *Guard {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Guard{
		sem:    semaphore.NewWeighted(maxConcurrent),
		limit:  maxConcurrent,
		policy: policy,
		logger: logging.OrNop(logger),
	}
}

// Limit returns the number of concurrency permits
func (g *Guard) Limit() int64 {
	return g.limit
}

// Do runs fn under a concurrency permit, retrying transient failures.
// The permit is released between attempts. Exhausted or permanent
// failures wrap domain.ErrUpstreamUnavailable.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.InitialBackoff
	b.MaxInterval = g.policy.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(g.policy.MaxAttempts - 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		metrics.UpstreamInFlight.Inc()
		err := fn(ctx)
		metrics.UpstreamInFlight.Dec()
		g.sem.Release(1)

		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.UpstreamRetries.WithLabelValues(op).Inc()
		g.logger.Warn("retrying upstream call",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.UpstreamFailures.WithLabelValues(op).Inc()
	g.logger.Error("upstream call failed",
		zap.String("operation", op),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	return fmt.Errorf("%s failed after %d attempt(s): %w: %w", op, attempt, domain.ErrUpstreamUnavailable, err)
}

// IsTransient reports whether an upstream error is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Transient
	}
	// Timeouts and unclassified transport failures are retried
	return true
}

// guardedEmbedding routes embedding calls through a Guard
type guardedEmbedding struct {
	driven.EmbeddingService
	guard *Guard
}

func (e *guardedEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.EmbeddingService.Embed(ctx, texts)
		return err
	})
	return out, err
}

func (e *guardedEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed_query", func(ctx context.Context) error {
		var err error
		out, err = e.EmbeddingService.EmbedQuery(ctx, query)
		return err
	})
	return out, err
}

// guardedLLM routes completions through a Guard
type guardedLLM struct {
	driven.LLMService
	guard *Guard
}

func (l *guardedLLM) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (*domain.Completion, error) {
	var out *domain.Completion
	err := l.guard.Do(ctx, "complete", func(ctx context.Context) error {
		var err error
		out, err = l.LLMService.Complete(ctx, messages, opts)
		return err
	})
	return out, err
}
