// Package store is the conditional record store backing the
// orchestration core. It offers atomic compare-and-swap updates for
// concurrency-controlled records and epoch-seconds TTL expiry for
// task-related records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New creates a Store at the given database path and runs migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialized access avoids SQLITE_BUSY under concurrent writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// PurgeExpired removes task and log records whose TTL has elapsed.
// Returns the number of records removed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	epoch := now.Unix()

	res, err := s.db.ExecContext(ctx, `DELETE FROM task_logs WHERE expires_at <= ?`, epoch)
	if err != nil {
		return 0, fmt.Errorf("purging task logs: %w", err)
	}
	logs, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM agent_tasks WHERE expires_at <= ?`, epoch)
	if err != nil {
		return logs, fmt.Errorf("purging tasks: %w", err)
	}
	tasks, _ := res.RowsAffected()

	return logs + tasks, nil
}
