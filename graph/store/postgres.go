package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx used by PostgresStore. *pgxpool.Pool,
// pgx.Tx and pgxmock pools all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const createPostgresTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    session_id TEXT PRIMARY KEY,
    payload    BYTEA NOT NULL,
    encoding   TEXT NOT NULL DEFAULT 'json',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps checkpoints in PostgreSQL through pgx.
type PostgresStore struct {
	db     Querier
	pool   *pgxpool.Pool
	table  string
	codec  Codec
	closed atomic.Bool
}

// NewPostgresStore wraps an existing querier. The caller owns its
// lifecycle; Close only marks the store closed. Call EnsureSchema once
// before first use unless migrations manage the table.
func NewPostgresStore(db Querier, opts ...Option) *PostgresStore {
	o := defaultSQLOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{
		db:    db,
		table: pgx.Identifier{o.table}.Sanitize(),
		codec: o.codec,
	}
}

// OpenPostgresStore creates a pool from dsn, migrates the table and returns
// a store that closes the pool on Close.
func OpenPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, opts...)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createPostgresTableSQL, s.table)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var (
		payload  []byte
		encoding string
	)
	query := fmt.Sprintf(`SELECT payload, encoding FROM %s WHERE session_id = $1`, s.table)
	err := s.db.QueryRow(ctx, query, sessionID).Scan(&payload, &encoding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	return unmarshalSnapshot(encoding, payload)
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	if s.closed.Load() {
		return ErrClosed
	}

	payload, encoding, err := marshalSnapshot(s.codec, snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (session_id, payload, encoding)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		SET payload = EXCLUDED.payload, encoding = EXCLUDED.encoding, updated_at = NOW()`, s.table)
	if _, err := s.db.Exec(ctx, query, sessionID, payload, encoding); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Close implements Store. The pool is closed only if the store opened it.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
