package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements driven.VectorIndex using PostgreSQL.
// Vectors are REAL[] columns; filtering runs in SQL and cosine ranking in
// process.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex creates a new VectorIndex
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

const insertEmbedding = `
	INSERT INTO embeddings (chunk_id, chunk_type, category, hmo, tier, content, metadata, vector, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (chunk_id) DO UPDATE SET
		chunk_type = EXCLUDED.chunk_type,
		category = EXCLUDED.category,
		hmo = EXCLUDED.hmo,
		tier = EXCLUDED.tier,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		vector = EXCLUDED.vector,
		updated_at = NOW()
`

// Upsert writes records, replacing any with the same chunk ID
func (x *VectorIndex) Upsert(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	return x.db.Transaction(ctx, func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, records)
	})
}

// Replace deletes every record and writes records in one transaction.
// Concurrent readers see the old set until commit.
func (x *VectorIndex) Replace(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	return x.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
			return unavailable("clearing index", err)
		}
		return insertRecords(ctx, tx, records)
	})
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []*domain.EmbeddingRecord) error {
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata for %s: %w", r.ChunkID, err)
		}
		if _, err := tx.ExecContext(ctx, insertEmbedding,
			r.ChunkID, r.Metadata["type"], r.Metadata["category"], r.Metadata["hmo"], r.Metadata["tier"],
			r.Text, string(meta), pq.Float32Array(r.Vector),
		); err != nil {
			return unavailable("writing "+r.ChunkID, err)
		}
	}
	return nil
}

// Query filters in SQL and ranks candidates by cosine similarity
func (x *VectorIndex) Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error) {
	where, args := filterClause(filter)
	rows, err := x.db.QueryContext(ctx,
		"SELECT chunk_id, content, metadata, vector FROM embeddings"+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, unavailable("querying index", err)
	}
	defer rows.Close()

	var records []*domain.EmbeddingRecord
	for rows.Next() {
		var (
			r        domain.EmbeddingRecord
			metaJSON string
			vec      pq.Float32Array
		)
		if err := rows.Scan(&r.ChunkID, &r.Text, &metaJSON, &vec); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata for %s: %w", r.ChunkID, err)
		}
		r.Vector = vec
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating records", err)
	}

	return domain.RankRecords(records, vector, filter, topK), nil
}

// filterClause renders the filter with HMO and tier wildcards
func filterClause(f domain.ChunkFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ChunkType != "" {
		add("chunk_type = $%d", string(f.ChunkType))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.HMO != "" {
		add("(hmo = $%d OR hmo = '')", string(f.HMO))
	}
	if f.Tier != "" {
		add("(tier = $%d OR tier = '')", string(f.Tier))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Count returns the number of stored records
func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, unavailable("counting records", err)
	}
	return n, nil
}

// Stats returns record counts by metadata field
func (x *VectorIndex) Stats(ctx context.Context) (*domain.IndexStats, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT metadata FROM embeddings ORDER BY seq")
	if err != nil {
		return nil, unavailable("reading metadata", err)
	}
	defer rows.Close()

	stats := domain.NewIndexStats("postgres")
	for rows.Next() {
		var metaJSON string
		if err := rows.Scan(&metaJSON); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
		stats.Observe(meta)
	}
	return stats, rows.Err()
}

// HealthCheck pings the database
func (x *VectorIndex) HealthCheck(ctx context.Context) error {
	if err := x.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("postgres %s: %w: %w", op, domain.ErrIndexUnavailable, err)
}

func validateRecords(records []*domain.EmbeddingRecord) error {
	for i, r := range records {
		switch {
		case r == nil:
			return fmt.Errorf("record %d: %w", i, domain.ErrInvalidInput)
		case r.ChunkID == "":
			return fmt.Errorf("record %d: missing chunk id: %w", i, domain.ErrInvalidInput)
		case len(r.Vector) == 0:
			return fmt.Errorf("record %s: empty vector: %w", r.ChunkID, domain.ErrInvalidInput)
		}
	}
	return nil
}
