// Package store persists AnalysisResult snapshots. Every backend stores the
// full result as a JSON document keyed by the analysis ID, plus the few
// columns history queries filter and sort on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/config"
)

var (
	// ErrNotFound is returned by Get for unknown IDs.
	ErrNotFound = errors.New("analysis not found")
	// ErrDisabled is returned by Open when the configured driver is "none".
	ErrDisabled = errors.New("persistence disabled")
)

// DefaultListLimit caps ListByURL when the caller passes a non-positive limit.
const DefaultListLimit = 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one row of an analysis history listing.
type Entry struct {
	ID        string               `json:"id"`
	URL       string               `json:"url"`
	Mode      schemas.AnalysisMode `json:"mode"`
	Score     int                  `json:"score"`
	Timestamp time.Time            `json:"timestamp"`
}

// Repository is implemented by every backend.
type Repository interface {
	Save(ctx context.Context, r *schemas.AnalysisResult) error
	Get(ctx context.Context, id string) (*schemas.AnalysisResult, error)
	// ListByURL returns the newest analyses of url first.
	ListByURL(ctx context.Context, url string, limit int) ([]Entry, error)
	Close() error
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Repository, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, ErrDisabled
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := ConnectPostgres(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func encodeSnapshot(r *schemas.AnalysisResult) ([]byte, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("cannot persist an analysis without an id")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis %s: %w", r.ID, err)
	}
	return b, nil
}

func decodeSnapshot(id string, b []byte) (*schemas.AnalysisResult, error) {
	var r schemas.AnalysisResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode analysis %s: %w", id, err)
	}
	return &r, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
