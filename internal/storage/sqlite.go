package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite is the embedded Store for single-node and local deployments.
type SQLite struct {
	db *sql.DB
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS scripts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		scene_class TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		script_id TEXT NOT NULL,
		container TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts_used INTEGER NOT NULL,
		output_path TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		class TEXT NOT NULL DEFAULT '',
		hint TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts (run_id)`,
}

// NewSQLite opens (or creates) the database file and applies the schema.
// The path ":memory:" gives an ephemeral store.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The sqlite driver does not tolerate concurrent writers on one file.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying sqlite schema: %w", err)
		}
	}

	log.Info().Str("path", path).Msg("opened sqlite database")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing sqlite database")
	}
}

func (s *SQLite) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLite) SaveScript(ctx context.Context, rec *ScriptRecord) error {
	query := `
		INSERT INTO scripts (id, content, scene_class, status, description, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			scene_class = excluded.scene_class,
			status = excluded.status,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Content, rec.SceneClass, rec.Status,
		rec.Description, rec.Provider, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving script: %w", err)
	}
	return nil
}

func (s *SQLite) GetScript(ctx context.Context, id string) (*ScriptRecord, error) {
	query := `
		SELECT id, content, scene_class, status, description, provider, created_at, updated_at
		FROM scripts WHERE id = ?`

	var rec ScriptRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Content, &rec.SceneClass, &rec.Status,
		&rec.Description, &rec.Provider, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying script %s: %w", id, err)
	}
	return &rec, nil
}

// SetScriptStatus updates the lifecycle status of a stored script. Scripts
// submitted inline have no row until the run completes, so an unknown id is
// not an error.
func (s *SQLite) SetScriptStatus(ctx context.Context, id, status string) error {
	query := `UPDATE scripts SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("updating script %s status: %w", id, err)
	}
	return nil
}

func (s *SQLite) SaveRun(ctx context.Context, rec *RunRecord) error {
	query := `
		INSERT INTO runs (id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			outcome = excluded.outcome,
			attempts_used = excluded.attempts_used,
			output_path = excluded.output_path,
			last_error = excluded.last_error,
			completed_at = excluded.completed_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ScriptID, rec.Container, rec.Outcome, rec.AttemptsUsed,
		rec.OutputPath, truncateForDB(rec.LastError, 65535),
		rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

func (s *SQLite) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at
		FROM runs WHERE id = ?`

	var rec RunRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.ScriptID, &rec.Container, &rec.Outcome, &rec.AttemptsUsed,
		&rec.OutputPath, &rec.LastError, &rec.StartedAt, &rec.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLite) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at
		FROM runs
		WHERE (? = '' OR outcome = ?)
		  AND (? = '' OR script_id = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Outcome, filter.Outcome,
		filter.ScriptID, filter.ScriptID,
		clampLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.ScriptID, &rec.Container, &rec.Outcome, &rec.AttemptsUsed,
			&rec.OutputPath, &rec.LastError, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (s *SQLite) SaveAttempt(ctx context.Context, rec *AttemptRecord) error {
	query := `
		INSERT INTO attempts (id, run_id, number, outcome, class, hint, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RunID, rec.Number, rec.Outcome, rec.Class, rec.Hint,
		truncateForDB(rec.Error, 65535), rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving attempt: %w", err)
	}
	return nil
}

func (s *SQLite) ListAttempts(ctx context.Context, runID string) ([]AttemptRecord, error) {
	query := `
		SELECT id, run_id, number, outcome, class, hint, error, started_at, completed_at
		FROM attempts WHERE run_id = ? ORDER BY number ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var results []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Number, &rec.Outcome, &rec.Class,
			&rec.Hint, &rec.Error, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
