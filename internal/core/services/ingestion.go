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
	"github.com/custodia-labs/hmo-assist/internal/metrics"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

// Ensure ingestionService implements IngestionService
var _ driving.IngestionService = (*ingestionService)(nil)

const (
	// MaxEmbeddingBatch is the upstream limit on texts per embedding call
	MaxEmbeddingBatch = 100

	// IngestionLockName is the distributed lock held while the index is rebuilt
	IngestionLockName = "hmo-assist:ingestion"
)

// IngestionConfig holds dependencies for the ingestion service.
type IngestionConfig struct {
	Index     driven.VectorIndex
	Lock      driven.DistributedLock // Optional
	Chunker   *Chunker
	Services  *runtime.Services
	BatchSize int
	LockTTL   time.Duration
	Logger    *zap.Logger
}

// ingestionService chunks, embeds and indexes the knowledge base
type ingestionService struct {
	index     driven.VectorIndex
	lock      driven.DistributedLock
	chunker   *Chunker
	services  *runtime.Services
	batchSize int
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewIngestionService creates a new IngestionService
func NewIngestionService(cfg IngestionConfig) driving.IngestionService {
	batch := cfg.BatchSize
	if batch <= 0 || batch > MaxEmbeddingBatch {
		batch = MaxEmbeddingBatch
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	chunker := cfg.Chunker
	if chunker == nil {
		chunker = NewChunker(nil)
	}
	return &ingestionService{
		index:     cfg.Index,
		lock:      cfg.Lock,
		chunker:   chunker,
		services:  cfg.Services,
		batchSize: batch,
		lockTTL:   ttl,
		logger:    logging.OrNop(cfg.Logger),
	}
}

// Ingest rebuilds the index from docs.
// Every vector is computed before the index is replaced, so a failed run
// leaves the previous index untouched.
func (s *ingestionService) Ingest(ctx context.Context, docs []*domain.SourceDocument) (*domain.IngestionReport, error) {
	start := time.Now()

	embedder := s.services.EmbeddingService()
	if embedder == nil {
		return nil, &domain.IngestionError{Stage: domain.StageEmbed, Err: domain.ErrServiceUnavailable}
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, IngestionLockName, s.lockTTL)
		if err != nil {
			return nil, &domain.IngestionError{Stage: domain.StageLock, Err: err}
		}
		if !acquired {
			return nil, &domain.IngestionError{Stage: domain.StageLock, Err: domain.ErrIngestionInProgress}
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), IngestionLockName); err != nil {
				s.logger.Warn("failed to release ingestion lock", zap.Error(err))
			}
		}()
	}

	chunks, err := s.chunker.ChunkAll(docs)
	if err != nil {
		return nil, err
	}
	counts := domain.CountChunks(chunks)
	s.logger.Info("chunked knowledge base",
		zap.Int("documents", len(docs)),
		zap.Int("context", counts.Context),
		zap.Int("benefit", counts.Benefit),
		zap.Int("contact", counts.Contact),
	)

	records, batches, err := s.embedAll(ctx, embedder, chunks)
	if err != nil {
		return nil, err
	}

	if err := s.index.Replace(ctx, records); err != nil {
		return nil, &domain.IngestionError{Stage: domain.StageIndex, Err: fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)}
	}

	for _, ch := range chunks {
		metrics.IngestedChunks.WithLabelValues(string(ch.Type)).Inc()
	}

	report := &domain.IngestionReport{
		Documents: len(docs),
		Counts:    counts,
		Batches:   batches,
		Model:     embedder.Model(),
		Took:      time.Since(start).Milliseconds(),
	}
	s.logger.Info("index replaced",
		zap.Int("records", len(records)),
		zap.Int("batches", batches),
		zap.Int64("took_ms", report.Took),
	)
	return report, nil
}

// embedAll embeds chunk text in batches and pairs each chunk with its vector
func (s *ingestionService) embedAll(ctx context.Context, embedder driven.EmbeddingService, chunks []*domain.Chunk) ([]*domain.EmbeddingRecord, int, error) {
	records := make([]*domain.EmbeddingRecord, 0, len(chunks))
	batches := 0

	for from := 0; from < len(chunks); from += s.batchSize {
		batch := chunks[from:min(from+s.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, 0, &domain.IngestionError{Document: batch[0].SourcePath, Category: batch[0].Category, Stage: domain.StageEmbed, Err: err}
		}
		if len(vectors) != len(batch) {
			return nil, 0, &domain.IngestionError{
				Stage: domain.StageEmbed,
				Err:   fmt.Errorf("embedding returned %d vectors for %d texts", len(vectors), len(batch)),
			}
		}

		for i, ch := range batch {
			if err := checkVector(vectors[i], embedder.Dimensions()); err != nil {
				return nil, 0, &domain.IngestionError{Document: ch.SourcePath, Category: ch.Category, Stage: domain.StageEmbed, Err: err}
			}
			records = append(records, domain.NewEmbeddingRecord(ch, vectors[i]))
		}
		batches++

		if s.lock != nil {
			if err := s.lock.Extend(ctx, IngestionLockName, s.lockTTL); err != nil {
				return nil, 0, &domain.IngestionError{Stage: domain.StageLock, Err: err}
			}
		}
		s.logger.Debug("embedded batch", zap.Int("batch", batches), zap.Int("embedded", len(records)), zap.Int("total", len(chunks)))
	}
	return records, batches, nil
}

// checkVector rejects empty, zero or wrongly sized vectors
func checkVector(v []float32, dims int) error {
	if len(v) == 0 {
		return fmt.Errorf("empty embedding vector")
	}
	if dims > 0 && len(v) != dims {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(v), dims)
	}
	for _, x := range v {
		if x != 0 {
			return nil
		}
	}
	return fmt.Errorf("zero embedding vector")
}

// Stats returns the current index statistics
func (s *ingestionService) Stats(ctx context.Context) (*domain.IndexStats, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return stats, nil
}
