package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dupmill/internal/morsel"
)

// SQLiteStore is a Store backed by a single SQLite database file, one
// row per producer identity.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed state store
// at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	const query = `
	CREATE TABLE IF NOT EXISTS producer_state (
		producer_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Load returns the persisted morsels for producerID, or (nil, nil) if
// nothing has been saved yet.
func (s *SQLiteStore) Load(ctx context.Context, producerID string) ([]morsel.Morsel, error) {
	var payload string
	var found bool
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT payload FROM producer_state WHERE producer_id = ?`, producerID)
		err := row.Scan(&payload)
		if err == sql.ErrNoRows {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, err
	}

	var morsels []morsel.Morsel
	if err := json.Unmarshal([]byte(payload), &morsels); err != nil {
		return nil, fmt.Errorf("failed to decode persisted morsels: %w", err)
	}
	return morsels, nil
}

// Save replaces producerID's persisted morsel set with morsels inside a
// single transaction.
func (s *SQLiteStore) Save(ctx context.Context, producerID string, morsels []morsel.Morsel) error {
	payload, err := json.Marshal(morsels)
	if err != nil {
		return fmt.Errorf("failed to encode morsels: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		const query = `
		INSERT INTO producer_state (producer_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(producer_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, query, producerID, string(payload), time.Now()); err != nil {
			return fmt.Errorf("failed to save producer state: %w", err)
		}

		return tx.Commit()
	})
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	const baseDelay = 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) {
			if attempt < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<uint(attempt))
				jitter := time.Duration(attempt*10) * time.Millisecond
				time.Sleep(delay + jitter)
				continue
			}
		}

		return err
	}

	return nil
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is closed")
}
