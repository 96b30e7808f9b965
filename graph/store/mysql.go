package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore keeps checkpoints in MySQL or MariaDB.
//
// DSN format (see go-sql-driver/mysql):
//
//	user:password@tcp(localhost:3306)/stategraph?parseTime=true
//
// Read credentials from the environment, never from source.
type MySQLStore struct {
	db     *sql.DB
	opts   sqlOptions
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects, verifies the connection and migrates the table.
func NewMySQLStore(dsn string, opts ...Option) (*MySQLStore, error) {
	o := defaultSQLOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validTable(o.table); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db, opts: o}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id VARCHAR(255) NOT NULL PRIMARY KEY,
			payload LONGBLOB NOT NULL,
			encoding VARCHAR(16) NOT NULL DEFAULT 'json',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, m.opts.table)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s table: %w", m.opts.table, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.db.PingContext(ctx)
}

// Load implements Store.
func (m *MySQLStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var (
		payload  []byte
		encoding string
	)
	query := fmt.Sprintf("SELECT payload, encoding FROM %s WHERE session_id = ?", m.opts.table)
	err := m.db.QueryRowContext(ctx, query, sessionID).Scan(&payload, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	return unmarshalSnapshot(encoding, payload)
}

// Save implements Store.
func (m *MySQLStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	payload, encoding, err := marshalSnapshot(m.opts.codec, snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, payload, encoding)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), encoding = VALUES(encoding)`, m.opts.table)
	if _, err := m.db.ExecContext(ctx, query, sessionID, payload, encoding); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Delete implements Store.
func (m *MySQLStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", m.opts.table)
	if _, err := m.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Close implements Store.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
