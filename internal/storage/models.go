package storage

import "time"

// ScriptRecord is a stored Manim script, generated or submitted.
type ScriptRecord struct {
	ID          string    `json:"id" db:"id"`
	Content     string    `json:"content" db:"content"`
	SceneClass  string    `json:"scene_class" db:"scene_class"`
	Status      string    `json:"status" db:"status"` // pending, executing, debugging, successful, failed
	Description string    `json:"description,omitempty" db:"description"`
	Provider    string    `json:"provider,omitempty" db:"provider"` // generating AI, empty for direct submissions
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// RunRecord is one completed execution run.
type RunRecord struct {
	ID           string     `json:"id" db:"id"`
	ScriptID     string     `json:"script_id" db:"script_id"`
	Container    string     `json:"container" db:"container"`
	Outcome      string     `json:"outcome" db:"outcome"` // succeeded, failed
	AttemptsUsed int        `json:"attempts_used" db:"attempts_used"`
	OutputPath   string     `json:"output_path,omitempty" db:"output_path"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// AttemptRecord is one attempt within a run.
type AttemptRecord struct {
	ID          string    `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Number      int       `json:"number" db:"number"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Class       string    `json:"class,omitempty" db:"class"`
	Hint        string    `json:"hint,omitempty" db:"hint"`
	Error       string    `json:"error,omitempty" db:"error"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Outcome  string
	ScriptID string
	Limit    int
	Offset   int
}
