package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("checkpoint store is closed")

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		source TEXT NOT NULL,
		key TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		status_code INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (source, key)
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON items(source, status);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetItem returns the record for key, or nil when there is none.
func (s *SQLiteStore) GetItem(source, key string) (*ItemRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var result *ItemRecord
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getItem(source, key)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getItem(source, key string) (*ItemRecord, error) {
	query := `
	SELECT source, key, size, status, attempts, status_code, last_error, updated_at
	FROM items WHERE source = ? AND key = ?
	`

	record, err := scanItem(s.db.QueryRow(query, source, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// SaveItem inserts or updates a record.
func (s *SQLiteStore) SaveItem(record *ItemRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent workers.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveItem(record)
	})
}

func (s *SQLiteStore) saveItem(record *ItemRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
	INSERT INTO items
	(source, key, size, status, attempts, status_code, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, key) DO UPDATE SET
		size = excluded.size,
		status = excluded.status,
		attempts = excluded.attempts,
		status_code = excluded.status_code,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		record.Source,
		record.Key,
		record.Size,
		record.Status,
		record.Attempts,
		record.StatusCode,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// CountItems returns how many records of source are in status.
func (s *SQLiteStore) CountItems(source string, status ItemStatus) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var count int
	err := s.retryOnBusy(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM items WHERE source = ? AND status = ?`, source, status).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*ItemRecord, error) {
	var record ItemRecord
	var lastError sql.NullString

	err := row.Scan(
		&record.Source,
		&record.Key,
		&record.Size,
		&record.Status,
		&record.Attempts,
		&record.StatusCode,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

// retryOnBusy retries the operation while SQLite reports lock contention.
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !isSQLiteBusyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, 9))
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
