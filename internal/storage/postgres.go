package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &Postgres{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *Postgres) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *Postgres) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// SaveScript inserts a script or updates its content and status.
func (db *Postgres) SaveScript(ctx context.Context, rec *ScriptRecord) error {
	query := `
		INSERT INTO scripts (id, content, scene_class, status, description, provider, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			scene_class = EXCLUDED.scene_class,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.Content, rec.SceneClass, rec.Status,
		rec.Description, rec.Provider, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving script: %w", err)
	}
	return nil
}

// SetScriptStatus updates a script's lifecycle status. Unknown IDs are a
// no-op: inline submissions have no stored row until the run completes.
func (db *Postgres) SetScriptStatus(ctx context.Context, id, status string) error {
	query := `UPDATE scripts SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := db.pool.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("updating script status: %w", err)
	}
	return nil
}

// GetScript retrieves a script by ID.
func (db *Postgres) GetScript(ctx context.Context, id string) (*ScriptRecord, error) {
	query := `
		SELECT id, content, scene_class, status, description, provider, created_at, updated_at
		FROM scripts WHERE id = $1`

	var rec ScriptRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Content, &rec.SceneClass, &rec.Status,
		&rec.Description, &rec.Provider, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying script %s: %w", id, err)
	}
	return &rec, nil
}

// SaveRun inserts a completed run record.
func (db *Postgres) SaveRun(ctx context.Context, rec *RunRecord) error {
	query := `
		INSERT INTO runs (id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			attempts_used = EXCLUDED.attempts_used,
			output_path = EXCLUDED.output_path,
			last_error = EXCLUDED.last_error,
			completed_at = EXCLUDED.completed_at`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.ScriptID, rec.Container, rec.Outcome, rec.AttemptsUsed,
		rec.OutputPath, truncateForDB(rec.LastError, 65535),
		rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (db *Postgres) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at
		FROM runs WHERE id = $1`

	var rec RunRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.ScriptID, &rec.Container, &rec.Outcome, &rec.AttemptsUsed,
		&rec.OutputPath, &rec.LastError, &rec.StartedAt, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return &rec, nil
}

// ListRuns queries runs with optional filters, newest first.
func (db *Postgres) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, script_id, container, outcome, attempts_used,
			output_path, last_error, started_at, completed_at
		FROM runs
		WHERE ($1 = '' OR outcome = $1)
		  AND ($2 = '' OR script_id = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.Outcome, filter.ScriptID, clampLimit(filter.Limit), filter.Offset,
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

// SaveAttempt inserts one attempt record.
func (db *Postgres) SaveAttempt(ctx context.Context, rec *AttemptRecord) error {
	query := `
		INSERT INTO attempts (id, run_id, number, outcome, class, hint, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.RunID, rec.Number, rec.Outcome, rec.Class, rec.Hint,
		truncateForDB(rec.Error, 65535), rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving attempt: %w", err)
	}
	return nil
}

// ListAttempts returns a run's attempts ordered by number.
func (db *Postgres) ListAttempts(ctx context.Context, runID string) ([]AttemptRecord, error) {
	query := `
		SELECT id, run_id, number, outcome, class, hint, error, started_at, completed_at
		FROM attempts WHERE run_id = $1 ORDER BY number ASC`

	rows, err := db.pool.Query(ctx, query, runID)
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
