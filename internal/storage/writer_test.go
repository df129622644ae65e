package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prithvirajz/Manim-Video-Generator/internal/docker"
	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// memStore is an in-memory Store for writer tests. failures counts down: each
// write fails until it reaches zero.
type memStore struct {
	mu       sync.Mutex
	scripts  map[string]*ScriptRecord
	runs     map[string]*RunRecord
	attempts []*AttemptRecord
	statuses []string
	failures int
}

func newMemStore() *memStore {
	return &memStore{
		scripts: make(map[string]*ScriptRecord),
		runs:    make(map[string]*RunRecord),
	}
}

func (m *memStore) failNext() error {
	if m.failures > 0 {
		m.failures--
		return errors.New("transient store failure")
	}
	return nil
}

func (m *memStore) SaveScript(ctx context.Context, rec *ScriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	m.scripts[rec.ID] = rec
	return nil
}

func (m *memStore) GetScript(ctx context.Context, id string) (*ScriptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) SetScriptStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	m.statuses = append(m.statuses, status)
	if rec, ok := m.scripts[id]; ok {
		rec.Status = status
	}
	return nil
}

func (m *memStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	m.runs[rec.ID] = rec
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunRecord
	for _, rec := range m.runs {
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memStore) SaveAttempt(ctx context.Context, rec *AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	m.attempts = append(m.attempts, rec)
	return nil
}

func (m *memStore) ListAttempts(ctx context.Context, runID string) ([]AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AttemptRecord
	for _, rec := range m.attempts {
		if rec.RunID == runID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) Healthy(ctx context.Context) bool { return true }
func (m *memStore) Close()                           {}

func sampleRun() *executor.Run {
	return &executor.Run{
		ID: "run-1",
		Script: script.Script{
			ID:      "script-1",
			Content: "class Demo(Scene): pass",
			Status:  script.StatusSuccessful,
		},
		Target: docker.Target{Name: "manim-renderer", WorkDir: "/manim"},
		Attempts: []executor.Attempt{
			{Number: 1, Outcome: executor.OutcomeFailure, Class: executor.ClassExecutionFailed, Error: "boom"},
			{Number: 2, Outcome: executor.OutcomeSuccess},
		},
		ErrorHistory: []string{"boom"},
		FinalOutcome: executor.RunSucceeded,
		OutputPath:   "videos/out.mp4",
		StartedAt:    time.Now().Add(-time.Minute),
		CompletedAt:  time.Now(),
	}
}

func TestHistoryWriterPersistsRunAndAttempts(t *testing.T) {
	store := newMemStore()
	w := NewHistoryWriter(store, 16)
	w.Start()

	run := sampleRun()
	for _, a := range run.Attempts {
		w.RecordAttempt(run.ID, a)
	}
	w.RecordRun(run)
	w.Flush(2 * time.Second)

	rec, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Outcome != executor.RunSucceeded {
		t.Errorf("Outcome = %q, want %q", rec.Outcome, executor.RunSucceeded)
	}
	if rec.AttemptsUsed != 2 {
		t.Errorf("AttemptsUsed = %d, want 2", rec.AttemptsUsed)
	}
	if rec.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", rec.LastError)
	}

	attempts, err := store.ListAttempts(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("stored attempts = %d, want 2", len(attempts))
	}

	scriptRec, err := store.GetScript(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("GetScript() error = %v", err)
	}
	if scriptRec.Status != string(script.StatusSuccessful) {
		t.Errorf("script status = %q, want successful", scriptRec.Status)
	}
}

func TestHistoryWriterRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.failures = 2
	w := NewHistoryWriter(store, 16)
	w.Start()

	w.RecordRun(sampleRun())
	w.Flush(5 * time.Second)

	if _, err := store.GetRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("run not persisted after retries: %v", err)
	}
}

func TestHistoryWriterPersistsStatusTransitions(t *testing.T) {
	store := newMemStore()
	w := NewHistoryWriter(store, 16)
	w.Start()

	w.RecordScriptStatus("script-1", script.StatusExecuting)
	w.RecordScriptStatus("script-1", script.StatusDebugging)
	w.RecordScriptStatus("script-1", script.StatusSuccessful)
	w.Flush(2 * time.Second)

	want := []string{"executing", "debugging", "successful"}
	store.mu.Lock()
	got := append([]string(nil), store.statuses...)
	store.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("stored statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHistoryWriterCarriesAttemptHint(t *testing.T) {
	store := newMemStore()
	w := NewHistoryWriter(store, 16)
	w.Start()

	w.RecordAttempt("run-1", executor.Attempt{
		Number:  1,
		Outcome: executor.OutcomeFailure,
		Class:   executor.ClassExecutionFailed,
		Hint:    "missing_module",
		Error:   "ModuleNotFoundError: No module named 'numpy'",
	})
	w.Flush(2 * time.Second)

	attempts, err := store.ListAttempts(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("stored attempts = %d, want 1", len(attempts))
	}
	if attempts[0].Hint != "missing_module" {
		t.Errorf("Hint = %q, want missing_module", attempts[0].Hint)
	}
}

func TestTruncateForDBKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
	}{
		{"ascii", "plain traceback text", 10},
		{"multibyte cut", "错误错误错误", 4},
		{"arrow in traceback", "x → y → z", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateForDB(tt.input, tt.max)
			if len(got) > tt.max {
				t.Errorf("truncated length = %d, exceeds %d", len(got), tt.max)
			}
			for i, r := range got {
				if r == '�' {
					t.Errorf("invalid rune at byte %d in %q", i, got)
				}
			}
		})
	}
}

func TestHistoryWriterDropsWhenBufferFull(t *testing.T) {
	store := newMemStore()
	w := NewHistoryWriter(store, 1)
	// Not started: the buffer fills and excess records are dropped, never
	// blocking the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.RecordAttempt("run-x", executor.Attempt{Number: i + 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordAttempt blocked on a full buffer")
	}
}
