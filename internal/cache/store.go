package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Store is the durable cache tier: a local SQLite key-value table keyed by
// normalized input text. It is the source of truth the fast tier is derived
// from. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// DefaultStorePath returns the default location of the durable cache,
// ~/.mnemo/embeddings.db, creating the directory if needed.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cache: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".mnemo")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cache: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "embeddings.db"), nil
}

// OpenStore opens (or creates) the durable tier at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenStore(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embeddings (
    key           TEXT    PRIMARY KEY,  -- normalized input text
    vector        BLOB    NOT NULL,     -- little-endian float32s
    model_id      TEXT    NOT NULL,
    dims          INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,     -- Unix milliseconds
    last_accessed INTEGER NOT NULL,
    access_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_embeddings_created
    ON embeddings (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("cache: migrate: %w", err)
	}
	return nil
}

// Get returns the entry stored under key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	const q = `
SELECT vector, model_id, created_at, last_accessed, access_count
FROM   embeddings WHERE key = ?`

	var (
		blob              []byte
		created, accessed int64
		modelID           string
		count             int64
	)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&blob, &modelID, &created, &accessed, &count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}

	return &Entry{
		Record: Record{
			Vector:    decodeVector(blob),
			ModelID:   modelID,
			CreatedAt: time.UnixMilli(created),
		},
		LastAccessed: time.UnixMilli(accessed),
		AccessCount:  count,
	}, nil
}

// Put upserts the entry under key. Last write wins: embeddings for identical
// text are deterministic, so racing writers converge on the same value.
func (s *Store) Put(ctx context.Context, key string, e *Entry) error {
	const q = `
INSERT INTO embeddings (key, vector, model_id, dims, created_at, last_accessed, access_count)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    vector = excluded.vector, model_id = excluded.model_id, dims = excluded.dims,
    created_at = excluded.created_at, last_accessed = excluded.last_accessed,
    access_count = excluded.access_count`

	_, err := s.db.ExecContext(ctx, q,
		key, encodeVector(e.Vector), e.ModelID, len(e.Vector),
		e.CreatedAt.UnixMilli(), e.LastAccessed.UnixMilli(), e.AccessCount)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Touch refreshes access metadata for key. Missing keys are ignored.
func (s *Store) Touch(ctx context.Context, key string, at time.Time, count int64) error {
	const q = `UPDATE embeddings SET last_accessed = ?, access_count = ? WHERE key = ?`
	if _, err := s.db.ExecContext(ctx, q, at.UnixMilli(), count, key); err != nil {
		return fmt.Errorf("cache: touch: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// Clear removes every entry in a single transaction, so an interrupted clear
// never leaves the durable tier partially emptied.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: clear begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("cache: clear: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: clear commit: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries created before cutoff and reports how many
// rows went away. Used by the TTL sweep.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sweep rows: %w", err)
	}
	return n, nil
}

// Count returns the number of durable entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}
	return nil
}

// encodeVector converts a []float32 to a binary BLOB (4 bytes per element).
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector converts a binary BLOB back to []float32.
func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
