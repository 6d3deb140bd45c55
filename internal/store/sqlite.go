package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	// DefaultRecentLimit is used when RecentDispatches is called with a non-positive limit.
	DefaultRecentLimit = 50
	// MaxRecentLimit caps RecentDispatches.
	MaxRecentLimit = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		conversation_ref TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		query_type TEXT NOT NULL,
		transport TEXT NOT NULL,
		outcome TEXT NOT NULL,
		diagnostic TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at);
	CREATE INDEX IF NOT EXISTS idx_dispatches_outcome ON dispatches(outcome, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordDispatch stores one dispatch record, retrying on SQLITE_BUSY.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "record dispatch "+rec.ID, func() error {
		return s.recordDispatchOnce(ctx, rec)
	})
}

func (s *SQLiteStore) recordDispatchOnce(ctx context.Context, rec *domain.DispatchRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO dispatches (
		id, conversation_ref, request_id, query_type, transport,
		outcome, diagnostic, duration_ns, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ConversationRef, rec.RequestID, rec.QueryType, rec.Transport,
		rec.Outcome, rec.Diagnostic, int64(rec.Duration), createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// RecentDispatches returns up to limit records, newest first.
func (s *SQLiteStore) RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	query := `
		SELECT id, conversation_ref, request_id, query_type, transport,
		       outcome, diagnostic, duration_ns, created_at
		FROM dispatches ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent dispatches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close dispatch rows", "error", closeErr)
		}
	}()

	records := make([]*domain.DispatchRecord, 0, limit)
	for rows.Next() {
		var rec domain.DispatchRecord
		var durationNS, createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.ConversationRef, &rec.RequestID, &rec.QueryType, &rec.Transport,
			&rec.Outcome, &rec.Diagnostic, &durationNS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}

		rec.Duration = time.Duration(durationNS)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}

	return records, nil
}

// OutcomeCounts returns the number of dispatches per outcome since the given time.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `SELECT outcome, COUNT(*) FROM dispatches WHERE created_at >= ? GROUP BY outcome`

	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close outcome count rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}

	return counts, nil
}

// CleanupDispatches removes records older than retention.
func (s *SQLiteStore) CleanupDispatches(ctx context.Context, retention time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-retention).UnixNano()
	result, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup dispatches: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
