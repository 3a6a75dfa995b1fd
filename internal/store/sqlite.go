package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a content-addressed store backed by a single SQLite
// database. Useful where one cache file is easier to ship and share than a
// directory tree (CI caches, test fixtures, embedded deployments).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite-backed store at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Open returns a reader for the entry at key, or ErrNotFound.
func (s *SQLiteStore) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM cas_entries WHERE algorithm = ? AND digest = ?`,
		key.Algorithm, key.Digest,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Create returns a writer for the entry at key. The row is inserted when
// Close returns; INSERT OR IGNORE keeps concurrent identical writes
// conflict-free.
func (s *SQLiteStore) Create(ctx context.Context, key Key) (io.WriteCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &sqliteWriter{store: s, ctx: ctx, key: key}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Len reports the number of entries. Used by tests and the materialize
// command's summary output.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cas_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting entries: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

type sqliteWriter struct {
	store *SQLiteStore
	ctx   context.Context
	key   Key
	buf   bytes.Buffer
}

func (w *sqliteWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *sqliteWriter) Close() error {
	_, err := w.store.db.ExecContext(w.ctx,
		`INSERT OR IGNORE INTO cas_entries (algorithm, digest, content, size) VALUES (?, ?, ?, ?)`,
		w.key.Algorithm, w.key.Digest, w.buf.Bytes(), w.buf.Len(),
	)
	if err != nil {
		return fmt.Errorf("store: inserting %s: %w", w.key, err)
	}
	return nil
}
