// Package memory keeps a SQLite record of processed queries. Records are for
// the user's history only and are never sent back to a model.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mcpchat/internal/domain"
)

const defaultHistoryLimit = 20

// SQLiteStore implements domain.TranscriptStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveQuery stores rec, assigning an id and timestamp when missing.
func (s *SQLiteStore) SaveQuery(ctx context.Context, rec domain.QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	calls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queries (id, provider, query, answer, error, tool_calls, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Query, rec.Answer, rec.Error, string(calls), rec.LatencyMs, rec.CreatedAt,
	)
	return err
}

// RecentQueries returns up to limit records, newest first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, query, COALESCE(answer, ''), COALESCE(error, ''), COALESCE(tool_calls, ''), latency_ms, created_at
		 FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QueryRecord
	for rows.Next() {
		var rec domain.QueryRecord
		var calls string
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Query, &rec.Answer, &rec.Error, &calls, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if calls != "" && calls != "null" {
			if err := json.Unmarshal([]byte(calls), &rec.ToolCalls); err != nil {
				s.logger.Warn("corrupt tool_calls column", "id", rec.ID, "error", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
