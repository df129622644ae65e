package executor

import (
	"time"

	"github.com/google/uuid"

	"github.com/prithvirajz/Manim-Video-Generator/internal/docker"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// Outcome of a single attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Failure classes, recorded per attempt for diagnostics and metrics.
const (
	ClassNoEntryPoint       = "no_entry_point"
	ClassRuntimeUnavailable = "runtime_unavailable"
	ClassExecutionFailed    = "execution_failed"
)

// Run outcomes.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Attempt is one pass through the retry loop. It is created at the start of
// an iteration and finalized before the loop decides its next action.
type Attempt struct {
	Number         int       `json:"number"` // 1-based, strictly increasing per run
	ScriptSnapshot string    `json:"-"`      // exact text executed this attempt
	Outcome        string    `json:"outcome"`
	Class          string    `json:"class,omitempty"` // failure class, empty on success
	Hint           string    `json:"hint,omitempty"`  // coarse failure hint from the error output
	Stdout         string    `json:"stdout,omitempty"`
	Stderr         string    `json:"stderr,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Run aggregates every attempt for one submitted script. It is owned by the
// orchestrator for the duration of one Execute call and handed to the record
// sink at completion.
type Run struct {
	ID           string        `json:"id"`
	Script       script.Script `json:"script"`
	Target       docker.Target `json:"target"`
	Attempts     []Attempt     `json:"attempts"` // append-only, ordered by Number
	ErrorHistory []string      `json:"error_history"`
	FinalOutcome string        `json:"final_outcome"`
	OutputPath   string        `json:"output_path,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

func newRun(s script.Script, target docker.Target) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Script:    s,
		Target:    target,
		StartedAt: time.Now(),
	}
}

// LastError returns the most recent entry of the error history, or "".
func (r *Run) LastError() string {
	if len(r.ErrorHistory) == 0 {
		return ""
	}
	return r.ErrorHistory[len(r.ErrorHistory)-1]
}

// RunResult is what Execute hands back to callers. It always carries the
// best-known script text and the attempt count, success or not.
type RunResult struct {
	Success      bool   `json:"success"`
	OutputPath   string `json:"output_path,omitempty"`
	Error        string `json:"error,omitempty"`
	AttemptsUsed int    `json:"attempts_used"`
	Script       string `json:"script"` // best-known script text
	Run          *Run   `json:"run"`
}

// Sink receives fire-and-forget notifications about attempts, script
// lifecycle transitions and completed runs. Implementations must be
// non-blocking; failures in a sink never abort the orchestration loop.
type Sink interface {
	RecordAttempt(runID string, attempt Attempt)
	RecordScriptStatus(scriptID string, status script.Status)
	RecordRun(run *Run)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) RecordAttempt(string, Attempt)            {}
func (NopSink) RecordScriptStatus(string, script.Status) {}
func (NopSink) RecordRun(*Run)                           {}
