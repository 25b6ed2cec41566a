package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// setupTestIndex opens an index in a per-test temporary directory.
func setupTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Open(filepath.Join(t.TempDir(), "data", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, idx.Close()) })
	return idx
}

func record(ct domain.ChunkType, c domain.Category, h domain.HMO, t domain.Tier, v ...float32) *domain.EmbeddingRecord {
	ch := domain.NewChunk(ct, c, h, t)
	ch.Content = domain.ChunkKey(ct, c, h, t)
	ch.Title = "מרפאות שיניים"
	ch.Language = domain.LanguageHebrew
	ch.SourcePath = "kb/dentel_services.md"
	return domain.NewEmbeddingRecord(ch, v)
}

func dentalRecords() []*domain.EmbeddingRecord {
	return []*domain.EmbeddingRecord{
		record(domain.ChunkTypeContext, domain.CategoryDental, "", "", 0, 1),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierSilver, 1, 0.2),
		record(domain.ChunkTypeContact, domain.CategoryDental, domain.HMOClalit, "", 1, 0),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Replace(context.Background(), dentalRecords()))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n, "records survive reopen")
	assert.Equal(t, path, idx.Path())
}

func TestIndex_ReplaceAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := setupTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeContext, domain.CategoryOptometry, "", "", 1, 0),
	}))
	require.NoError(t, idx.Replace(ctx, dentalRecords()))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "replace drops records not in the new set")

	got, err := idx.Query(ctx, []float32{1, 0}, domain.ChunkFilter{HMO: domain.HMOMaccabi, Tier: domain.TierGold}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TierGold, got[0].Chunk.Tier)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, domain.ChunkTypeContext, got[1].Chunk.Type, "context chunks match any HMO and tier")
	assert.Equal(t, "kb/dentel_services.md", got[0].Chunk.SourcePath)
	assert.Equal(t, domain.ChunkKey(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold), got[0].Chunk.Content)

	got, err = idx.Query(ctx, []float32{1, 0}, domain.ChunkFilter{Category: domain.CategoryPregnancy}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_QueryFilters(t *testing.T) {
	ctx := context.Background()
	idx := setupTestIndex(t)
	require.NoError(t, idx.Replace(ctx, dentalRecords()))

	tests := []struct {
		name   string
		filter domain.ChunkFilter
		want   int
	}{
		{"all", domain.ChunkFilter{}, 4},
		{"type", domain.ChunkFilter{ChunkType: domain.ChunkTypeBenefit}, 2},
		{"hmo wildcard", domain.ChunkFilter{HMO: domain.HMOClalit}, 2},
		{"tier wildcard", domain.ChunkFilter{Tier: domain.TierBronze}, 2},
		{"contact for maccabi", domain.ChunkFilter{ChunkType: domain.ChunkTypeContact, HMO: domain.HMOMaccabi}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.Query(ctx, []float32{1, 1}, tt.filter, 10)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestIndex_UpsertReplacesSameID(t *testing.T) {
	ctx := context.Background()
	idx := setupTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
	}))
	require.NoError(t, idx.Upsert(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 0, 1),
	}))

	n, _ := idx.Count(ctx)
	assert.Equal(t, 1, n)

	got, err := idx.Query(ctx, []float32{0, 1}, domain.ChunkFilter{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestIndex_DeterministicTies(t *testing.T) {
	ctx := context.Background()
	idx := setupTestIndex(t)

	records := []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMeuhedet, domain.TierBronze, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOClalit, domain.TierSilver, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOClalit, domain.TierGold, 1, 0),
	}
	require.NoError(t, idx.Replace(ctx, records))

	got, err := idx.Query(ctx, []float32{1, 0}, domain.ChunkFilter{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.TierGold, got[0].Chunk.Tier)
	assert.Equal(t, domain.TierSilver, got[1].Chunk.Tier)
	assert.Equal(t, domain.HMOMeuhedet, got[2].Chunk.HMO)
}

func TestIndex_Stats(t *testing.T) {
	ctx := context.Background()
	idx := setupTestIndex(t)
	require.NoError(t, idx.Replace(ctx, dentalRecords()))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByType["benefit"])
	assert.Equal(t, 2, stats.ByHMO["maccabi"])
	assert.Equal(t, 1, stats.ByTier["gold"])
	assert.Equal(t, 4, stats.ByCategory["dental"])
}

func TestIndex_RejectsInvalidRecords(t *testing.T) {
	idx := setupTestIndex(t)

	err := idx.Replace(context.Background(), []*domain.EmbeddingRecord{
		record(domain.ChunkTypeContext, domain.CategoryDental, "", ""),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestIndex_ClosedIsUnavailable(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Count(context.Background())
	assert.True(t, errors.Is(err, domain.ErrIndexUnavailable))
	assert.True(t, errors.Is(idx.HealthCheck(context.Background()), domain.ErrIndexUnavailable))
}

func TestFloat32Roundtrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
