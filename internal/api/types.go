package api

import "time"

// GenerateRequest asks an AI provider to produce a Manim script.
type GenerateRequest struct {
	Description string `json:"description"`
	Provider    string `json:"provider,omitempty"` // force a specific provider, empty uses priority order
}

// GenerateResponse returns the generated script.
type GenerateResponse struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SceneClass string `json:"scene_class"`
	Provider   string `json:"provider,omitempty"`
	Status     string `json:"status"`
}

// RenderRequest submits a script for execution. Exactly one of ScriptID and
// Content must be set.
type RenderRequest struct {
	ScriptID    string   `json:"script_id,omitempty"`
	Content     string   `json:"content,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"` // caps below the server default, never above
	Timeout     Duration `json:"timeout,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// RenderResponse reports the outcome of an execution run.
type RenderResponse struct {
	RunID        string `json:"run_id"`
	Success      bool   `json:"success"`
	VideoPath    string `json:"video_path,omitempty"`
	AttemptsUsed int    `json:"attempts_used"`
	Error        string `json:"error,omitempty"`
	Script       string `json:"script,omitempty"` // final script text after remediation
	Duration     string `json:"duration"`
}

// AttemptEvent is one attempt's summary, used in run detail responses and
// progress streams.
type AttemptEvent struct {
	Number  int    `json:"number"`
	Outcome string `json:"outcome"`
	Class   string `json:"class,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusEvent reports a script lifecycle transition on a progress stream.
type StatusEvent struct {
	ScriptID string `json:"script_id"`
	Status   string `json:"status"`
}

// RunDetailResponse is a stored run with its attempt history.
type RunDetailResponse struct {
	ID           string         `json:"id"`
	ScriptID     string         `json:"script_id"`
	Container    string         `json:"container"`
	Outcome      string         `json:"outcome"`
	AttemptsUsed int            `json:"attempts_used"`
	OutputPath   string         `json:"output_path,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Attempts     []AttemptEvent `json:"attempts,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Container bool   `json:"container"`
	Database  bool   `json:"database"`
	Providers int    `json:"providers"`
	Uptime    string `json:"uptime"`
}
