package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// DBFileName is the tracker database file inside the state directory.
const DBFileName = "state.db"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (creating if needed) the tracker database in stateDir.
func NewSQLiteStore(stateDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create state dir: %w", err)}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Join(stateDir, DBFileName))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to open database: %w", err)}
	}

	// One writer process, sequential access within a run.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:  db,
		now: time.Now,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create tables: %w", err)}
	}

	return store, nil
}

// SetClock replaces the time source used for fresh items.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS processed_objects (
		url TEXT NOT NULL UNIQUE,
		last_attempt TIMESTAMP NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS processed_objects_idx ON processed_objects(url);
	`

	_, err := s.db.Exec(query)
	return err
}

// Get retrieves a work item, initializing one in memory if the url is unknown.
func (s *SQLiteStore) Get(ctx context.Context, url string) (WorkItem, error) {
	if s.closed {
		return WorkItem{}, &StoreError{Op: "get", URL: url, Err: errors.New("database store is closed")}
	}

	var (
		item  WorkItem
		found bool
	)
	err := s.retryOnBusy(ctx, func() error {
		var err error
		item, found, err = s.getInternal(ctx, url)
		return err
	})
	if err != nil {
		return WorkItem{}, &StoreError{Op: "get", URL: url, Err: err}
	}
	if !found {
		return WorkItem{URL: url, LastAttempt: s.now(), AttemptCount: 0}, nil
	}
	return item, nil
}

func (s *SQLiteStore) getInternal(ctx context.Context, url string) (WorkItem, bool, error) {
	query := `
	SELECT url, last_attempt, attempt_count
	FROM processed_objects WHERE url = ?
	`

	var item WorkItem
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&item.URL,
		&item.LastAttempt,
		&item.AttemptCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkItem{}, false, nil
	}
	if err != nil {
		return WorkItem{}, false, err
	}

	return item, true, nil
}

// Put upserts the work item keyed by its url.
func (s *SQLiteStore) Put(ctx context.Context, item WorkItem) error {
	if s.closed {
		return &StoreError{Op: "put", URL: item.URL, Err: errors.New("database store is closed")}
	}
	if item.URL == "" {
		return &StoreError{Op: "put", Err: errors.New("work item has no url")}
	}
	if item.AttemptCount < 0 {
		return &StoreError{Op: "put", URL: item.URL, Err: fmt.Errorf("negative attempt count %d", item.AttemptCount)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.retryOnBusy(ctx, func() error {
		return s.putWithTransaction(ctx, item)
	})
	if err != nil {
		return &StoreError{Op: "put", URL: item.URL, Err: err}
	}
	return nil
}

func (s *SQLiteStore) putWithTransaction(ctx context.Context, item WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO processed_objects (url, last_attempt, attempt_count)
	VALUES (?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		last_attempt = excluded.last_attempt,
		attempt_count = excluded.attempt_count
	`

	if _, err := tx.ExecContext(ctx, query, item.URL, item.LastAttempt.UTC(), item.AttemptCount); err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// Len returns the number of persisted work items.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_objects`).Scan(&n); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// retryOnBusy retries operation while SQLite reports the database as locked.
func (s *SQLiteStore) retryOnBusy(ctx context.Context, operation func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		err := operation()
		if err == nil || isSQLiteBusyError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 10), ctx))
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
