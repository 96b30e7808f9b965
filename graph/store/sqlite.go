package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validTable(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// SQLiteStore keeps checkpoints in a SQLite database file using the pure-Go
// modernc.org/sqlite driver, so no cgo is required.
//
// The database runs in WAL mode with a single connection; SQLite allows one
// writer at a time and a busy timeout covers brief lock contention.
//
//	st, err := store.NewSQLiteStore("./checkpoints.db", store.WithCodec(store.ZstdCodec()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
// Use ":memory:" for a throwaway database in tests.
type SQLiteStore struct {
	db     *sql.DB
	opts   sqlOptions
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// checkpoint table.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultSQLOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validTable(o.table); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, opts: o, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL PRIMARY KEY,
			payload BLOB NOT NULL,
			encoding TEXT NOT NULL DEFAULT 'json',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, s.opts.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.opts.table, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var (
		payload  []byte
		encoding string
	)
	query := fmt.Sprintf("SELECT payload, encoding FROM %s WHERE session_id = ?", s.opts.table)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&payload, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	return unmarshalSnapshot(encoding, payload)
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	payload, encoding, err := marshalSnapshot(s.opts.codec, snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, payload, encoding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			payload = excluded.payload,
			encoding = excluded.encoding,
			updated_at = excluded.updated_at`, s.opts.table)
	if _, err := s.db.ExecContext(ctx, query, sessionID, payload, encoding, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", s.opts.table)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Close implements Store. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
