// Package audit keeps an optional SQLite journal of relay and ingress
// outcomes. Only ids and outcomes are stored, never message text.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry kinds.
const (
	KindRelay   = "relay"
	KindIngress = "ingress"
)

// Entry is one journal row.
type Entry struct {
	ID        int64
	Kind      string
	RunID     string
	Outcome   string
	Reason    string
	ChannelID string
	AuthorID  string
	MessageID string
	LatencyMs int64
	Error     string
	CreatedAt time.Time
}

// SQLiteStore writes journal entries to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Record appends an entry. A zero CreatedAt is stamped with the current time.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindRelay
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_log (kind, run_id, outcome, reason, channel_id, author_id, message_id, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.RunID, e.Outcome, e.Reason, e.ChannelID, e.AuthorID, e.MessageID, e.LatencyMs, e.Error, e.CreatedAt,
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, run_id, outcome, reason, channel_id, author_id, message_id, latency_ms, error, created_at
		 FROM relay_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.RunID, &e.Outcome, &e.Reason, &e.ChannelID,
			&e.AuthorID, &e.MessageID, &e.LatencyMs, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journal rows.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_log`).Scan(&n)
	return n, err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
