package vespa

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// fakeVespa keeps documents in memory and serves the subset of the
// document and search APIs the index uses. Visits return one document
// per page to exercise continuation.
type fakeVespa struct {
	mu       sync.Mutex
	docs     map[string]vespaFields
	lastYQL  string
	failWith int
}

func newFakeVespa(t *testing.T) (*fakeVespa, *Index) {
	t.Helper()
	f := &fakeVespa{docs: make(map[string]vespaFields)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	idx, err := NewIndex(DefaultConfig(srv.URL + "/"))
	require.NoError(t, err)
	return f, idx
}

func (f *fakeVespa) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != 0 {
		http.Error(w, "boom", f.failWith)
		return
	}

	const docPrefix = "/document/v1/hmo/chunk/docid"
	switch {
	case r.URL.Path == "/state/v1/health":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, docPrefix+"/"):
		var doc vespaDocument
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.docs[strings.TrimPrefix(r.URL.Path, docPrefix+"/")] = doc.Fields
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, docPrefix):
		keep, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Query().Get("selection"), "chunk.generation != "), 10, 64)
		if err != nil {
			http.Error(w, "bad selection", http.StatusBadRequest)
			return
		}
		for id, d := range f.docs {
			if d.Generation != keep {
				delete(f.docs, id)
			}
		}
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, docPrefix):
		ids := f.sortedIDs()
		start := 0
		if c := r.URL.Query().Get("continuation"); c != "" {
			start, _ = strconv.Atoi(c)
		}
		var page vespaVisitResponse
		if start < len(ids) {
			page.Documents = append(page.Documents, struct {
				Fields vespaFields `json:"fields"`
			}{Fields: vespaFields{Metadata: f.docs[ids[start]].Metadata}})
			if start+1 < len(ids) {
				page.Continuation = strconv.Itoa(start + 1)
			}
		}
		_ = json.NewEncoder(w).Encode(page)

	case r.Method == http.MethodPost && r.URL.Path == "/search/":
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastYQL, _ = req["yql"].(string)

		var resp vespaSearchResponse
		resp.Root.Fields.TotalCount = int64(len(f.docs))
		if hits, _ := req["hits"].(float64); hits > 0 {
			for _, id := range f.sortedIDs() {
				resp.Root.Children = append(resp.Root.Children, struct {
					Relevance float64     `json:"relevance"`
					Fields    vespaFields `json:"fields"`
				}{Relevance: 0.5, Fields: f.docs[id]})
			}
		}
		_ = json.NewEncoder(w).Encode(resp)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeVespa) sortedIDs() []string {
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func record(t domain.ChunkType, c domain.Category, h domain.HMO, tier domain.Tier, vec ...float32) *domain.EmbeddingRecord {
	chunk := domain.NewChunk(t, c, h, tier)
	chunk.Content = string(t) + " " + string(c) + " " + string(h) + " " + string(tier)
	return domain.NewEmbeddingRecord(chunk, vec)
}

func TestIndex_ReplaceAndQuery(t *testing.T) {
	fake, idx := newFakeVespa(t)
	ctx := t.Context()

	require.NoError(t, idx.Replace(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOClalit, domain.TierGold, 1, 0),
		record(domain.ChunkTypeContext, domain.CategoryDental, "", "", 0.6, 0.8),
	}))

	got, err := idx.Query(ctx, []float32{1, 0}, domain.ChunkFilter{Category: domain.CategoryDental, HMO: domain.HMOMaccabi, Tier: domain.TierGold}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.HMOMaccabi, got[0].Chunk.HMO)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, domain.ChunkTypeContext, got[1].Chunk.Type)

	assert.Contains(t, fake.lastYQL, `nearestNeighbor(embedding,q)`)
	assert.Contains(t, fake.lastYQL, `(hmo contains "maccabi" or hmo contains "any")`)
	assert.Contains(t, fake.lastYQL, `category contains "dental"`)
}

func TestIndex_ReplaceDropsOldGeneration(t *testing.T) {
	fake, idx := newFakeVespa(t)
	ctx := t.Context()

	require.NoError(t, idx.Replace(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryOptometry, domain.HMOMaccabi, domain.TierGold, 0, 1),
	}))
	require.NoError(t, idx.Replace(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
	}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, fake.docs, 1)
}

func TestIndex_StoresWildcardsAsAny(t *testing.T) {
	fake, idx := newFakeVespa(t)

	require.NoError(t, idx.Upsert(t.Context(), []*domain.EmbeddingRecord{
		record(domain.ChunkTypeContext, domain.CategoryDental, "", "", 1, 0),
	}))

	for _, d := range fake.docs {
		assert.Equal(t, anyValue, d.HMO)
		assert.Equal(t, anyValue, d.Tier)
		assert.NotContains(t, d.Metadata, anyValue)
	}
}

func TestIndex_Stats(t *testing.T) {
	_, idx := newFakeVespa(t)
	ctx := t.Context()

	require.NoError(t, idx.Replace(ctx, []*domain.EmbeddingRecord{
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold, 1, 0),
		record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOClalit, domain.TierSilver, 1, 0),
		record(domain.ChunkTypeContext, domain.CategoryDental, "", "", 1, 0),
	}))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vespa", stats.Backend)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType["benefit"])
	assert.Equal(t, 1, stats.ByHMO["maccabi"])
	assert.Equal(t, 3, stats.ByCategory["dental"])
}

func TestIndex_Unavailable(t *testing.T) {
	fake, idx := newFakeVespa(t)
	fake.failWith = http.StatusServiceUnavailable

	_, err := idx.Query(t.Context(), []float32{1}, domain.ChunkFilter{}, 3)
	assert.True(t, errors.Is(err, domain.ErrIndexUnavailable))

	err = idx.HealthCheck(t.Context())
	assert.True(t, errors.Is(err, domain.ErrIndexUnavailable))

	_, err = idx.Count(t.Context())
	assert.True(t, errors.Is(err, domain.ErrIndexUnavailable))
}

func TestIndex_RejectsInvalidRecords(t *testing.T) {
	_, idx := newFakeVespa(t)

	err := idx.Upsert(t.Context(), []*domain.EmbeddingRecord{{ChunkID: "x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuildYQL(t *testing.T) {
	yql := buildYQL(domain.ChunkFilter{ChunkType: domain.ChunkTypeContact}, 100)

	assert.Equal(t, `select * from chunk where ({targetHits:100}nearestNeighbor(embedding,q)) and chunk_type contains "contact"`, yql)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a\"b\\c"`, quote(`a"b\c`))
}
