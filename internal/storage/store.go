// Package storage persists scripts, runs and attempts. Two backends exist:
// PostgreSQL for deployments and embedded SQLite for single-node or local
// use. Both satisfy Store; Open picks one from the configured driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence surface the rest of the system depends on.
type Store interface {
	SaveScript(ctx context.Context, rec *ScriptRecord) error
	GetScript(ctx context.Context, id string) (*ScriptRecord, error)
	SetScriptStatus(ctx context.Context, id, status string) error

	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	SaveAttempt(ctx context.Context, rec *AttemptRecord) error
	ListAttempts(ctx context.Context, runID string) ([]AttemptRecord, error)

	Healthy(ctx context.Context) bool
	Close()
}

// Open constructs a Store for the given driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "sqlite":
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

/// truncateForDB bounds a column value without splitting a UTF-8 rune: a
// sliced traceback must still be valid text to Postgres.
func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
