package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	sqliteSchema = `
	CREATE TABLE IF NOT EXISTS analyses (
		id         TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		mode       TEXT NOT NULL,
		score      INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		snapshot   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_url_created ON analyses(url, created_at DESC);
	`
	sqliteInsert = `
	INSERT INTO analyses (id, url, mode, score, created_at, snapshot)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET score = excluded.score, snapshot = excluded.snapshot`
	sqliteGet  = `SELECT snapshot FROM analyses WHERE id = ?`
	sqliteList = `
	SELECT id, url, mode, score, created_at
	FROM analyses
	WHERE url = ?
	ORDER BY created_at DESC
	LIMIT ?`
)

// SQLiteStore is the local single-user backend. created_at is kept as Unix
// nanoseconds so ordering is numeric.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?mode=rwc&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; an in-memory database also only exists on its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: observability.Component(logger, observability.ComponentStore).With(zap.String("driver", "sqlite")),
	}, nil
}

// Save upserts the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, r *schemas.AnalysisResult) error {
	snap, err := encodeSnapshot(r)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteInsert,
		r.ID, r.URL, string(r.Mode), r.Score.Total, r.Timestamp.UTC().UnixNano(), string(snap),
	); err != nil {
		return fmt.Errorf("failed to insert analysis %s: %w", r.ID, err)
	}
	s.log.Debug("Analysis saved.", zap.String("analysis_id", r.ID), zap.Int("bytes", len(snap)))
	return nil
}

// Get loads one snapshot.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*schemas.AnalysisResult, error) {
	var snap string
	if err := s.db.QueryRowContext(ctx, sqliteGet, id).Scan(&snap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query analysis %s: %w", id, err)
	}
	return decodeSnapshot(id, []byte(snap))
}

// ListByURL returns history entries, newest first.
func (s *SQLiteStore) ListByURL(ctx context.Context, url string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqliteList, url, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			mode  string
			nanos int64
		)
		if err := rows.Scan(&e.ID, &e.URL, &mode, &e.Score, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Mode = schemas.AnalysisMode(mode)
		e.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
