package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/memory"
	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/hmo-assist/internal/postprocessors"
)

func newTestIngestion(index *memory.Index, emb *mocks.MockEmbeddingService, lock *mocks.MockDistributedLock, batch int) *ingestionService {
	cfg := IngestionConfig{
		Index:     index,
		Chunker:   NewChunker(postprocessors.DefaultPipeline()),
		Services:  newTestServices(emb, nil),
		BatchSize: batch,
	}
	if lock != nil {
		cfg.Lock = lock
	}
	return NewIngestionService(cfg).(*ingestionService)
}

func TestIngestion_BuildsIndex(t *testing.T) {
	ctx := context.Background()
	index := memory.NewIndex()
	emb := mocks.NewMockEmbeddingService()
	lock := mocks.NewMockDistributedLock()

	svc := newTestIngestion(index, emb, lock, 20)
	report, err := svc.Ingest(ctx, testCorpus())
	require.NoError(t, err)

	assert.Equal(t, 6, report.Documents)
	assert.Equal(t, domain.ChunkCounts{Context: 6, Benefit: 54, Contact: 18}, report.Counts)
	assert.Equal(t, 4, report.Batches)
	assert.Equal(t, []int{20, 20, 20, 18}, emb.BatchSizes())
	assert.Equal(t, "mock-embedding-model", report.Model)

	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 78, n)

	assert.Equal(t, 1, lock.Acquires)
	assert.Equal(t, 1, lock.Releases)
	assert.False(t, lock.IsHeld(IngestionLockName))
}

func TestIngestion_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	index := memory.NewIndex()
	svc := newTestIngestion(index, mocks.NewMockEmbeddingService(), nil, 0)

	_, err := svc.Ingest(ctx, testCorpus())
	require.NoError(t, err)
	before, err := index.Stats(ctx)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, testCorpus())
	require.NoError(t, err)
	after, err := index.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, 78, after.Total)
}

func TestIngestion_BatchSizeCapped(t *testing.T) {
	emb := mocks.NewMockEmbeddingService()
	svc := newTestIngestion(memory.NewIndex(), emb, nil, 500)
	assert.Equal(t, MaxEmbeddingBatch, svc.batchSize)

	_, err := svc.Ingest(context.Background(), testCorpus())
	require.NoError(t, err)
	for _, n := range emb.BatchSizes() {
		assert.LessOrEqual(t, n, MaxEmbeddingBatch)
	}
}

func TestIngestion_RetriesTransientEmbeddingFailures(t *testing.T) {
	emb := mocks.NewMockEmbeddingService()
	emb.FailTimes(2, nil)

	index := memory.NewIndex()
	_, err := newTestIngestion(index, emb, nil, 100).Ingest(context.Background(), testCorpus(domain.CategoryDental))
	require.NoError(t, err)

	n, _ := index.Count(context.Background())
	assert.Equal(t, 13, n)
}

func TestIngestion_EmbeddingExhaustionLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	index := memory.NewIndex()
	emb := mocks.NewMockEmbeddingService()
	svc := newTestIngestion(index, emb, nil, 10)

	_, err := svc.Ingest(ctx, testCorpus(domain.CategoryDental))
	require.NoError(t, err)

	// Second run fails on a later batch after earlier batches succeeded
	failing := &failAfterEmbedding{MockEmbeddingService: emb, okCalls: 2}
	svc.services = newTestServices(failing, nil)

	_, err = svc.Ingest(ctx, testCorpus())
	var ie *domain.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.StageEmbed, ie.Stage)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	n, _ := index.Count(ctx)
	assert.Equal(t, 13, n, "previous index must survive a failed run")
}

func TestIngestion_PermanentFailureNotRetried(t *testing.T) {
	emb := mocks.NewMockEmbeddingService()
	emb.FailTimes(5, &domain.UpstreamError{Service: "embedding", StatusCode: 401, Message: "bad key"})

	_, err := newTestIngestion(memory.NewIndex(), emb, nil, 100).Ingest(context.Background(), testCorpus(domain.CategoryDental))
	require.Error(t, err)
	assert.Equal(t, 1, emb.Calls())
}

func TestIngestion_ChunkErrorAbortsBeforeEmbedding(t *testing.T) {
	doc := testDocument(domain.CategoryDental)
	delete(doc.Services[0].Cells[domain.HMOClalit], domain.TierBronze)

	emb := mocks.NewMockEmbeddingService()
	_, err := newTestIngestion(memory.NewIndex(), emb, nil, 100).Ingest(context.Background(), []*domain.SourceDocument{doc})

	var missing *domain.MissingBenefitDataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 0, emb.Calls())
}

func TestIngestion_LockHeldElsewhere(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.SetLockHeld(IngestionLockName, time.Minute)

	_, err := newTestIngestion(memory.NewIndex(), mocks.NewMockEmbeddingService(), lock, 100).Ingest(context.Background(), testCorpus())

	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)
	var ie *domain.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.StageLock, ie.Stage)
}

func TestIngestion_RejectsZeroVectors(t *testing.T) {
	emb := mocks.NewMockEmbeddingService()
	emb.SetDimensions(2)
	doc := testDocument(domain.CategoryDental, domain.HMOMaccabi)
	chunks, err := NewChunker(postprocessors.DefaultPipeline()).Chunk(doc)
	require.NoError(t, err)
	emb.Pin(chunks[0].Content, []float32{0, 0})

	_, err = newTestIngestion(memory.NewIndex(), emb, nil, 100).Ingest(context.Background(), []*domain.SourceDocument{doc})
	var ie *domain.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.StageEmbed, ie.Stage)
}

func TestIngestion_NoEmbeddingService(t *testing.T) {
	svc := NewIngestionService(IngestionConfig{Index: memory.NewIndex(), Services: newTestServices(nil, nil)})

	_, err := svc.Ingest(context.Background(), testCorpus())
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestIngestion_IndexFailure(t *testing.T) {
	index := &mocks.MockVectorIndex{
		ReplaceFn: func([]*domain.EmbeddingRecord) error { return errors.New("disk full") },
	}
	svc := NewIngestionService(IngestionConfig{Index: index, Services: newTestServices(mocks.NewMockEmbeddingService(), nil)})

	_, err := svc.Ingest(context.Background(), testCorpus(domain.CategoryDental))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

// failAfterEmbedding succeeds okCalls times, then fails with a transient error
type failAfterEmbedding struct {
	*mocks.MockEmbeddingService
	okCalls int
	calls   int
}

func (f *failAfterEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls > f.okCalls {
		return nil, &domain.UpstreamError{Service: "embedding", StatusCode: 500, Message: "boom", Transient: true}
	}
	return f.MockEmbeddingService.Embed(ctx, texts)
}
