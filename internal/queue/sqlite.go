package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dupmill/internal/task"
)

// SQLiteQueue is a TaskQueue backed by a single SQLite database file,
// grounded on the same WAL/retry pattern internal/state uses for
// durable producer state.
type SQLiteQueue struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteQueue opens (creating if absent) a SQLite-backed queue at
// dbPath.
func NewSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	q := &SQLiteQueue{db: db}
	if err := q.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue tables: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) createTables() error {
	const query = `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		visible_at DATETIME NOT NULL,
		attempts INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_visible_at ON tasks(visible_at);
	`
	_, err := q.db.Exec(query)
	return err
}

// PutBatch enqueues tasks, each visible immediately.
func (q *SQLiteQueue) PutBatch(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return q.retryOnBusy(func() error {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks (payload, visible_at, attempts) VALUES (?, ?, 0)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now()
		for _, t := range tasks {
			payload, err := task.WriteEnvelope(t)
			if err != nil {
				return fmt.Errorf("failed to encode task envelope: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, string(payload), now); err != nil {
				return fmt.Errorf("failed to insert task: %w", err)
			}
		}

		return tx.Commit()
	})
}

// Take returns up to max currently-visible tasks, hiding each until
// visibility elapses.
func (q *SQLiteQueue) Take(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	var out []Delivery
	err := q.retryOnBusy(func() error {
		out = nil
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx,
			`SELECT id, payload, attempts FROM tasks WHERE visible_at <= ? ORDER BY id ASC LIMIT ?`,
			time.Now(), max)
		if err != nil {
			return fmt.Errorf("failed to query visible tasks: %w", err)
		}

		type row struct {
			id       int64
			payload  string
			attempts int
		}
		var rowsFound []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.payload, &r.attempts); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan task row: %w", err)
			}
			rowsFound = append(rowsFound, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(rowsFound) == 0 {
			return tx.Commit()
		}

		hideUntil := time.Now().Add(visibility)
		updateStmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET visible_at = ?, attempts = attempts + 1 WHERE id = ?`)
		if err != nil {
			return err
		}
		defer updateStmt.Close()

		for _, r := range rowsFound {
			t, err := task.ReadEnvelope([]byte(r.payload))
			if err != nil {
				return fmt.Errorf("failed to decode task envelope: %w", err)
			}
			t.Attempts = r.attempts + 1

			if _, err := updateStmt.ExecContext(ctx, hideUntil, r.id); err != nil {
				return fmt.Errorf("failed to extend visibility on take: %w", err)
			}

			out = append(out, Delivery{Task: t, Handle: strconv.FormatInt(r.id, 10)})
		}

		return tx.Commit()
	})
	return out, err
}

// ExtendVisibility pushes handle's hidden-until deadline out by
// visibility from now.
func (q *SQLiteQueue) ExtendVisibility(ctx context.Context, handle string, visibility time.Duration) error {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid handle %q: %w", handle, err)
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return q.retryOnBusy(func() error {
		_, err := q.db.ExecContext(ctx, `UPDATE tasks SET visible_at = ? WHERE id = ?`, time.Now().Add(visibility), id)
		return err
	})
}

// Delete permanently removes the task behind handle.
func (q *SQLiteQueue) Delete(ctx context.Context, handle string) error {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid handle %q: %w", handle, err)
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return q.retryOnBusy(func() error {
		_, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}

// Size returns the number of tasks currently enqueued, visible or not.
func (q *SQLiteQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) retryOnBusy(operation func() error) error {
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
