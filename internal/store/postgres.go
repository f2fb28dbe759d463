package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS analyses (
            id         TEXT PRIMARY KEY,
            url        TEXT NOT NULL,
            mode       TEXT NOT NULL,
            score      INTEGER NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            snapshot   JSONB NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_analyses_url_created ON analyses (url, created_at DESC);
    `
	pgInsert = `
        INSERT INTO analyses (id, url, mode, score, created_at, snapshot)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            score = EXCLUDED.score,
            snapshot = EXCLUDED.snapshot;
    `
	pgGet  = `SELECT snapshot FROM analyses WHERE id = $1;`
	pgList = `
        SELECT id, url, mode, score, created_at
        FROM analyses
        WHERE url = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `
)

// PostgresStore keeps snapshots in a JSONB column.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// ConnectPostgres opens a pgx pool for dsn and prepares the schema.
func ConnectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  observability.Component(logger, observability.ComponentStore).With(zap.String("driver", "postgres")),
	}, nil
}

// Migrate creates the analyses table when it is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot.
func (s *PostgresStore) Save(ctx context.Context, r *schemas.AnalysisResult) error {
	snap, err := encodeSnapshot(r)
	if err != nil {
		return err
	}
	// Timestamps are stored in UTC to keep ordering unambiguous.
	if _, err := s.pool.Exec(ctx, pgInsert,
		r.ID, r.URL, string(r.Mode), r.Score.Total, r.Timestamp.UTC(), snap,
	); err != nil {
		return fmt.Errorf("failed to insert analysis %s: %w", r.ID, err)
	}
	s.log.Debug("Analysis saved.", zap.String("analysis_id", r.ID), zap.Int("bytes", len(snap)))
	return nil
}

// Get loads one snapshot.
func (s *PostgresStore) Get(ctx context.Context, id string) (*schemas.AnalysisResult, error) {
	var snap []byte
	if err := s.pool.QueryRow(ctx, pgGet, id).Scan(&snap); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query analysis %s: %w", id, err)
	}
	return decodeSnapshot(id, snap)
}

// ListByURL returns history entries, newest first.
func (s *PostgresStore) ListByURL(ctx context.Context, url string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, pgList, url, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			mode string
		)
		if err := rows.Scan(&e.ID, &e.URL, &mode, &e.Score, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Mode = schemas.AnalysisMode(mode)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
