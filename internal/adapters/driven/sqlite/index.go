package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/sqlite/migrations"
	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

// Index is a VectorIndex stored in a single SQLite file.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens or creates the index at path and applies migrations.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets readers proceed while ingestion replaces the index
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	x := &Index{db: db, path: path}
	if err := x.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return x, nil
}

// Close closes the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Path returns the database file path.
func (x *Index) Path() string {
	return x.path
}

func (x *Index) migrate(fsys embed.FS) error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := x.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := x.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := x.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

const upsertSQL = `
	INSERT INTO embeddings (chunk_id, chunk_type, category, hmo, tier, content, metadata, vector, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chunk_id) DO UPDATE SET
		chunk_type = excluded.chunk_type,
		category = excluded.category,
		hmo = excluded.hmo,
		tier = excluded.tier,
		content = excluded.content,
		metadata = excluded.metadata,
		vector = excluded.vector
`

// Upsert writes records, replacing any with the same chunk ID.
func (x *Index) Upsert(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	return x.write(ctx, records, false)
}

// Replace deletes every record and writes records in one transaction.
func (x *Index) Replace(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	return x.write(ctx, records, true)
}

func (x *Index) write(ctx context.Context, records []*domain.EmbeddingRecord, replace bool) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return x.unavailable("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
			return x.unavailable("clearing index", err)
		}
	}

	var seq int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM embeddings").Scan(&seq); err != nil {
		return x.unavailable("reading sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return x.unavailable("preparing upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata for %s: %w", r.ChunkID, err)
		}
		seq++
		if _, err := stmt.ExecContext(ctx,
			r.ChunkID, r.Metadata["type"], r.Metadata["category"], r.Metadata["hmo"], r.Metadata["tier"],
			r.Text, string(meta), float32SliceToBytes(r.Vector), seq,
		); err != nil {
			return x.unavailable("writing "+r.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return x.unavailable("commit", err)
	}
	return nil
}

// Query filters in SQL and ranks the candidates by cosine similarity.
func (x *Index) Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error) {
	where, args := filterClause(filter)
	rows, err := x.db.QueryContext(ctx,
		"SELECT chunk_id, content, metadata, vector FROM embeddings"+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, x.unavailable("querying index", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return domain.RankRecords(records, vector, filter, topK), nil
}

// filterClause renders the filter with HMO and tier wildcards: a record
// with an empty value matches any requested value.
func filterClause(f domain.ChunkFilter) (string, []any) {
	var conds []string
	var args []any
	if f.ChunkType != "" {
		conds = append(conds, "chunk_type = ?")
		args = append(args, string(f.ChunkType))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.HMO != "" {
		conds = append(conds, "(hmo = ? OR hmo = '')")
		args = append(args, string(f.HMO))
	}
	if f.Tier != "" {
		conds = append(conds, "(tier = ? OR tier = '')")
		args = append(args, string(f.Tier))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecords(rows *sql.Rows) ([]*domain.EmbeddingRecord, error) {
	var records []*domain.EmbeddingRecord
	for rows.Next() {
		var (
			r        domain.EmbeddingRecord
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&r.ChunkID, &r.Text, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata for %s: %w", r.ChunkID, err)
		}
		r.Vector = bytesToFloat32Slice(blob)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, x.unavailable("counting records", err)
	}
	return n, nil
}

// Stats returns record counts by metadata field.
func (x *Index) Stats(ctx context.Context) (*domain.IndexStats, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT metadata FROM embeddings ORDER BY seq")
	if err != nil {
		return nil, x.unavailable("reading metadata", err)
	}
	defer rows.Close()

	stats := domain.NewIndexStats("sqlite")
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

// HealthCheck pings the database.
func (x *Index) HealthCheck(ctx context.Context) error {
	if err := x.db.PingContext(ctx); err != nil {
		return x.unavailable("ping", err)
	}
	return nil
}

func (x *Index) unavailable(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, domain.ErrIndexUnavailable, err)
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

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
