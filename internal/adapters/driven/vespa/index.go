// Package vespa stores embedding records in a Vespa content cluster.
package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

const (
	namespace = "hmo"
	cluster   = "hmo"

	// anyValue stands in for an empty HMO or tier so wildcards are queryable
	anyValue = "any"

	// minTargetHits bounds the approximate neighbour search before exact re-ranking
	minTargetHits = 100

	feedConcurrency = 8
	visitPageSize   = 500
)

// Config holds Vespa connection configuration
type Config struct {
	// BaseURL is the container endpoint (e.g. http://localhost:8080)
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Index implements driven.VectorIndex over the Vespa document and search APIs.
// Candidates come from a filtered nearest-neighbour query and are re-ranked
// in process so scores and tie-breaking match the other backends.
type Index struct {
	baseURL    string
	httpClient *http.Client
	generation atomic.Int64
}

// NewIndex creates a Vespa-backed index
func NewIndex(cfg Config) (*Index, error) {
	baseURL, err := validateEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Index{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// vespaDocument represents a document in Vespa format
type vespaDocument struct {
	Fields vespaFields `json:"fields"`
}

type vespaFields struct {
	ChunkID    string    `json:"chunk_id"`
	ChunkType  string    `json:"chunk_type"`
	Category   string    `json:"category"`
	HMO        string    `json:"hmo"`
	Tier       string    `json:"tier"`
	Content    string    `json:"content"`
	Metadata   string    `json:"metadata"`
	Generation int64     `json:"generation"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// vespaSearchResponse represents Vespa's search response format
type vespaSearchResponse struct {
	Root struct {
		Fields struct {
			TotalCount int64 `json:"totalCount"`
		} `json:"fields"`
		Children []struct {
			Relevance float64     `json:"relevance"`
			Fields    vespaFields `json:"fields"`
		} `json:"children"`
	} `json:"root"`
}

// vespaVisitResponse is one page of the document/v1 visit API
type vespaVisitResponse struct {
	Documents []struct {
		Fields vespaFields `json:"fields"`
	} `json:"documents"`
	Continuation string `json:"continuation"`
}

// Upsert feeds records, replacing any with the same chunk ID.
func (x *Index) Upsert(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	return x.feed(ctx, records, x.nextGeneration())
}

// Replace feeds records under a new generation, then removes every document
// from older generations. Chunk IDs are deterministic, so readers only see
// chunks that left the knowledge base linger until the final delete.
func (x *Index) Replace(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	gen := x.nextGeneration()
	if err := x.feed(ctx, records, gen); err != nil {
		return err
	}
	return x.deleteBySelection(ctx, fmt.Sprintf("chunk.generation != %d", gen))
}

func (x *Index) nextGeneration() int64 {
	now := time.Now().UnixNano()
	for {
		prev := x.generation.Load()
		next := max(now, prev+1)
		if x.generation.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func (x *Index) feed(ctx context.Context, records []*domain.EmbeddingRecord, gen int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for _, r := range records {
		g.Go(func() error {
			return x.put(gctx, r, gen)
		})
	}
	return g.Wait()
}

func (x *Index) put(ctx context.Context, r *domain.EmbeddingRecord, gen int64) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", r.ChunkID, err)
	}
	body, err := json.Marshal(vespaDocument{Fields: vespaFields{
		ChunkID:    r.ChunkID,
		ChunkType:  r.Metadata["type"],
		Category:   r.Metadata["category"],
		HMO:        orAny(r.Metadata["hmo"]),
		Tier:       orAny(r.Metadata["tier"]),
		Content:    r.Text,
		Metadata:   string(meta),
		Generation: gen,
		Embedding:  r.Vector,
	}})
	if err != nil {
		return err
	}

	// Vespa document API: POST /document/v1/{namespace}/{doctype}/docid/{docid}
	endpoint := fmt.Sprintf("%s/document/v1/%s/chunk/docid/%s", x.baseURL, namespace, url.PathEscape(r.ChunkID))
	resp, err := x.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return x.unavailable("feed "+r.ChunkID, err)
	}
	resp.Body.Close()
	return nil
}

func (x *Index) deleteBySelection(ctx context.Context, selection string) error {
	endpoint := fmt.Sprintf("%s/document/v1/%s/chunk/docid?selection=%s&cluster=%s",
		x.baseURL, namespace, url.QueryEscape(selection), cluster)
	resp, err := x.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return x.unavailable("delete by selection", err)
	}
	resp.Body.Close()
	return nil
}

// Query runs a filtered nearest-neighbour search and re-ranks the candidates
// by exact cosine similarity.
func (x *Index) Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	targetHits := max(minTargetHits, topK*4)
	searchReq := map[string]any{
		"yql":                         buildYQL(filter, targetHits),
		"hits":                        targetHits,
		"ranking.profile":             "closeness",
		"input.query(q)":              vector,
		"presentation.format.tensors": "short-value",
	}

	var searchResp vespaSearchResponse
	if err := x.search(ctx, searchReq, &searchResp); err != nil {
		return nil, x.unavailable("query", err)
	}

	records := make([]*domain.EmbeddingRecord, 0, len(searchResp.Root.Children))
	for _, hit := range searchResp.Root.Children {
		r, err := hit.Fields.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return domain.RankRecords(records, vector, filter, topK), nil
}

// buildYQL renders the filter with HMO and tier wildcards
func buildYQL(f domain.ChunkFilter, targetHits int) string {
	conditions := []string{fmt.Sprintf("({targetHits:%d}nearestNeighbor(embedding,q))", targetHits)}
	if f.ChunkType != "" {
		conditions = append(conditions, fmt.Sprintf("chunk_type contains %s", quote(string(f.ChunkType))))
	}
	if f.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category contains %s", quote(string(f.Category))))
	}
	if f.HMO != "" {
		conditions = append(conditions, fmt.Sprintf("(hmo contains %s or hmo contains %s)", quote(string(f.HMO)), quote(anyValue)))
	}
	if f.Tier != "" {
		conditions = append(conditions, fmt.Sprintf("(tier contains %s or tier contains %s)", quote(string(f.Tier)), quote(anyValue)))
	}
	return "select * from chunk where " + strings.Join(conditions, " and ")
}

// Count returns the total number of indexed chunks
func (x *Index) Count(ctx context.Context) (int, error) {
	// hits=0 returns only totalCount
	searchReq := map[string]any{
		"yql":  "select * from chunk where true",
		"hits": 0,
	}
	var searchResp vespaSearchResponse
	if err := x.search(ctx, searchReq, &searchResp); err != nil {
		return 0, x.unavailable("count", err)
	}
	return int(searchResp.Root.Fields.TotalCount), nil
}

// Stats visits every document and counts by metadata field
func (x *Index) Stats(ctx context.Context) (*domain.IndexStats, error) {
	stats := domain.NewIndexStats("vespa")
	continuation := ""
	for {
		q := url.Values{}
		q.Set("cluster", cluster)
		q.Set("fieldSet", "chunk:metadata")
		q.Set("wantedDocumentCount", fmt.Sprint(visitPageSize))
		if continuation != "" {
			q.Set("continuation", continuation)
		}
		endpoint := fmt.Sprintf("%s/document/v1/%s/chunk/docid?%s", x.baseURL, namespace, q.Encode())

		resp, err := x.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, x.unavailable("visit", err)
		}
		var page vespaVisitResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode visit response: %w", err)
		}

		for _, doc := range page.Documents {
			var meta map[string]string
			if err := json.Unmarshal([]byte(doc.Fields.Metadata), &meta); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
			stats.Observe(meta)
		}
		if page.Continuation == "" {
			return stats, nil
		}
		continuation = page.Continuation
	}
}

// HealthCheck verifies the container is up
func (x *Index) HealthCheck(ctx context.Context) error {
	resp, err := x.do(ctx, http.MethodGet, x.baseURL+"/state/v1/health", nil)
	if err != nil {
		return x.unavailable("health check", err)
	}
	resp.Body.Close()
	return nil
}

func (x *Index) search(ctx context.Context, searchReq map[string]any, out *vespaSearchResponse) error {
	body, err := json.Marshal(searchReq)
	if err != nil {
		return err
	}
	resp, err := x.do(ctx, http.MethodPost, x.baseURL+"/search/", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do sends a request and turns 4xx/5xx responses into errors
func (x *Index) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("vespa %s %s: %s - %s", method, req.URL.Path, resp.Status, string(respBody))
	}
	return resp, nil
}

func (x *Index) unavailable(op string, err error) error {
	return fmt.Errorf("vespa %s: %w: %w", op, domain.ErrIndexUnavailable, err)
}

func (f vespaFields) record() (*domain.EmbeddingRecord, error) {
	var meta map[string]string
	if err := json.Unmarshal([]byte(f.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", f.ChunkID, err)
	}
	return &domain.EmbeddingRecord{
		ChunkID:  f.ChunkID,
		Vector:   f.Embedding,
		Text:     f.Content,
		Metadata: meta,
	}, nil
}

func validateRecords(records []*domain.EmbeddingRecord) error {
	for _, r := range records {
		if r == nil || r.ChunkID == "" {
			return fmt.Errorf("%w: record without chunk id", domain.ErrInvalidInput)
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: record %s has no vector", domain.ErrInvalidInput, r.ChunkID)
		}
	}
	return nil
}

func orAny(s string) string {
	if s == "" {
		return anyValue
	}
	return s
}

// quote renders a YQL string literal
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
