package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/metrics"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

// DefaultMaxHistory is the number of recent messages sent to the composer
const DefaultMaxHistory = 15

var answerTracer = otel.Tracer("github.com/custodia-labs/hmo-assist/services/answer")

// Ensure answerService implements AnswerService
var _ driving.AnswerService = (*answerService)(nil)

// AnswerConfig wires the answering pipeline
type AnswerConfig struct {
	Index              driven.VectorIndex
	Services           *runtime.Services
	TopK               int
	MaxHistory         int
	PlannerTemperature float64
	Logger             *zap.Logger
}

// answerService runs plan, embed, retrieve and compose for one question
type answerService struct {
	services   *runtime.Services
	planner    *Planner
	retriever  *Retriever
	composer   *Composer
	maxHistory int
	logger     *zap.Logger
}

// NewAnswerService creates an AnswerService.
// Model clients are read from runtime.Services on every call.
func NewAnswerService(cfg AnswerConfig) driving.AnswerService {
	logger := logging.OrNop(cfg.Logger).Named("answer")
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &answerService{
		services:   cfg.Services,
		planner:    NewPlanner(cfg.Services, cfg.PlannerTemperature, logger),
		retriever:  NewRetriever(cfg.Index, cfg.TopK, logger),
		composer:   NewComposer(cfg.Services, logger),
		maxHistory: cfg.MaxHistory,
		logger:     logger,
	}
}

// Answer returns a grounded answer for req. Missing HMO or tier are taken
// from req.Profile when present.
func (s *answerService) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error) {
	start := time.Now()
	ctx, span := answerTracer.Start(ctx, "answer", trace.WithAttributes(
		attribute.String("request.hmo", string(req.HMO)),
		attribute.String("request.tier", string(req.Tier)),
		attribute.String("request.language", string(req.Language)),
	))
	defer span.End()

	answer, err := s.answer(ctx, req, start)
	if err != nil {
		category := domain.ErrorCategory(err)
		metrics.AnswerFailures.WithLabelValues(category).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, category)
		s.logger.Warn("answer failed",
			zap.String("correlation_id", domain.CorrelationID(ctx)),
			zap.String("category", category),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.AnswersTotal.WithLabelValues(string(answer.Diagnostics.RetrievalTier)).Inc()
	metrics.AnswerDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("retrieval.tier", string(answer.Diagnostics.RetrievalTier)),
		attribute.Int("retrieval.chunks", answer.Diagnostics.ChunksRetrieved),
		attribute.Int("llm.tokens", answer.Diagnostics.TokensUsed),
	)
	s.logger.Info("question answered",
		zap.String("correlation_id", answer.Diagnostics.CorrelationID),
		zap.String("hmo", string(req.HMO)),
		zap.String("tier", string(req.Tier)),
		zap.String("retrieval_tier", string(answer.Diagnostics.RetrievalTier)),
		zap.Int("chunks", answer.Diagnostics.ChunksRetrieved),
		zap.Int("tokens", answer.Diagnostics.TokensUsed),
		zap.Int64("took_ms", answer.Diagnostics.TookMs),
	)
	return answer, nil
}

func (s *answerService) answer(ctx context.Context, req domain.AnswerRequest, start time.Time) (*domain.Answer, error) {
	if req.Profile != nil {
		if req.HMO == "" {
			req.HMO = req.Profile.HMO
		}
		if req.Tier == "" {
			req.Tier = req.Profile.Tier
		}
	}
	if req.Language == "" {
		req.Language = domain.LanguageHebrew
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	embedder := s.services.EmbeddingService()
	if embedder == nil {
		return nil, fmt.Errorf("embed question: %w", domain.ErrServiceUnavailable)
	}
	history := domain.TruncateHistory(req.History, s.maxHistory)

	planCtx, planSpan := answerTracer.Start(ctx, "answer.plan")
	plan, planTokens := s.planner.Plan(planCtx, req.Question, history)
	planSpan.SetAttributes(
		attribute.String("plan.chunk_type", string(plan.ChunkType)),
		attribute.String("plan.category", string(plan.Category)),
		attribute.Bool("plan.fallback", plan.Fallback),
	)
	planSpan.End()

	vector, err := traced(ctx, "answer.embed", func(ctx context.Context) ([]float32, error) {
		return embedder.EmbedQuery(ctx, req.Question)
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	result, err := traced(ctx, "answer.retrieve", func(ctx context.Context) (*domain.RetrievalResult, error) {
		return s.retriever.Retrieve(ctx, RetrievalQuery{
			Vector: vector,
			Plan:   plan,
			HMO:    req.HMO,
			Tier:   req.Tier,
		})
	})
	if err != nil {
		return nil, err
	}

	composition, err := traced(ctx, "answer.compose", func(ctx context.Context) (*Composition, error) {
		return s.composer.Compose(ctx, ComposeInput{
			Question: req.Question,
			Result:   result,
			History:  history,
			Language: req.Language,
			HMO:      req.HMO,
			Tier:     req.Tier,
		})
	})
	if err != nil {
		return nil, err
	}

	return &domain.Answer{
		Text:    composition.Text,
		Sources: composition.Sources,
		Diagnostics: domain.Diagnostics{
			TokensUsed:      planTokens + composition.TokensUsed,
			ChunksRetrieved: len(result.Chunks),
			TopK:            s.retriever.TopK(),
			RetrievalTier:   result.Tier,
			Plan:            plan,
			CorrelationID:   domain.CorrelationID(ctx),
			TookMs:          time.Since(start).Milliseconds(),
		},
	}, nil
}

// traced runs fn inside a child span, recording any error on it
func traced[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := answerTracer.Start(ctx, name)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

