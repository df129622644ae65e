package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/monitor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
	"github.com/prithvirajz/Manim-Video-Generator/internal/storage"
)

// mockRenderer implements Renderer for handler tests, capturing the last
// input and overrides it received.
type mockRenderer struct {
	result    *executor.RunResult
	err       error
	gotInput  script.Input
	gotOv     executor.Overrides
	callCount int
}

func (m *mockRenderer) ExecuteWithOverrides(_ context.Context, input script.Input, sink executor.Sink, ov executor.Overrides) (*executor.RunResult, error) {
	m.gotInput = input
	m.gotOv = ov
	m.callCount++
	if m.result != nil && m.result.Run != nil && sink != nil {
		for _, a := range m.result.Run.Attempts {
			sink.RecordAttempt(m.result.Run.ID, a)
		}
	}
	return m.result, m.err
}

// mockGenerator implements Generator.
type mockGenerator struct {
	script script.Script
	err    error
}

func (m *mockGenerator) Generate(_ context.Context, _, _ string) (script.Script, error) {
	return m.script, m.err
}

// mockStore implements storage.Store.
type mockStore struct {
	scripts map[string]*storage.ScriptRecord
	runs    map[string]*storage.RunRecord
}

func newMockStore() *mockStore {
	return &mockStore{
		scripts: make(map[string]*storage.ScriptRecord),
		runs:    make(map[string]*storage.RunRecord),
	}
}

func (m *mockStore) SaveScript(_ context.Context, rec *storage.ScriptRecord) error {
	m.scripts[rec.ID] = rec
	return nil
}

func (m *mockStore) GetScript(_ context.Context, id string) (*storage.ScriptRecord, error) {
	rec, ok := m.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (m *mockStore) SaveRun(_ context.Context, rec *storage.RunRecord) error {
	m.runs[rec.ID] = rec
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*storage.RunRecord, error) {
	rec, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (m *mockStore) ListRuns(_ context.Context, _ storage.RunFilter) ([]storage.RunRecord, error) {
	var out []storage.RunRecord
	for _, rec := range m.runs {
		out = append(out, *rec)
	}
	return out, nil
}

func (m *mockStore) SaveAttempt(_ context.Context, _ *storage.AttemptRecord) error { return nil }

func (m *mockStore) ListAttempts(_ context.Context, _ string) ([]storage.AttemptRecord, error) {
	return nil, nil
}

func (m *mockStore) SetScriptStatus(_ context.Context, id, status string) error {
	if rec, ok := m.scripts[id]; ok {
		rec.Status = status
	}
	return nil
}

func (m *mockStore) Healthy(_ context.Context) bool { return true }
func (m *mockStore) Close()                         {}

func newTestHandlers(renderer Renderer, generator Generator, store storage.Store) *Handlers {
	return NewHandlers(renderer, generator, store, monitor.NewMetrics(), true)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func successResult() *executor.RunResult {
	return &executor.RunResult{
		Success:      true,
		OutputPath:   "videos/manim_abc12345_1/720p30/Demo.mp4",
		AttemptsUsed: 1,
		Script:       "class Demo(Scene): pass",
		Run: &executor.Run{
			ID: "run-1",
			Attempts: []executor.Attempt{
				{Number: 1, Outcome: executor.OutcomeSuccess},
			},
		},
	}
}

func TestHandleRender_Success(t *testing.T) {
	h := newTestHandlers(&mockRenderer{result: successResult()}, nil, nil)

	rec := postJSON(t, h.HandleRender, "/render", RenderRequest{
		Content: "class Demo(Scene): pass",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp RenderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", resp.RunID)
	}
	if resp.VideoPath == "" {
		t.Error("VideoPath is empty")
	}
}

func TestHandleRender_ForwardsBudgetOverrides(t *testing.T) {
	renderer := &mockRenderer{result: successResult()}
	h := newTestHandlers(renderer, nil, nil)

	rec := postJSON(t, h.HandleRender, "/render", RenderRequest{
		Content:     "class Demo(Scene): pass",
		MaxAttempts: 1,
		Timeout:     Duration{30 * time.Second},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if renderer.gotOv.MaxAttempts != 1 {
		t.Errorf("MaxAttempts override = %d, want 1", renderer.gotOv.MaxAttempts)
	}
	if renderer.gotOv.AttemptTimeout != 30*time.Second {
		t.Errorf("AttemptTimeout override = %v, want 30s", renderer.gotOv.AttemptTimeout)
	}
}

func TestHandleRender_OmittedOverridesAreZero(t *testing.T) {
	renderer := &mockRenderer{result: successResult()}
	h := newTestHandlers(renderer, nil, nil)

	postJSON(t, h.HandleRender, "/render", RenderRequest{Content: "class Demo(Scene): pass"})

	if renderer.gotOv != (executor.Overrides{}) {
		t.Errorf("overrides = %+v, want zero value", renderer.gotOv)
	}
}

func TestHandleRender_InspectionDisabled(t *testing.T) {
	renderer := &mockRenderer{result: successResult()}
	h := NewHandlers(renderer, nil, nil, monitor.NewMetrics(), false)

	rec := postJSON(t, h.HandleRender, "/render", RenderRequest{
		Content: `subprocess.run(["rm", "-rf", "/"])`,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 with inspection off", rec.Code)
	}
	if renderer.callCount != 1 {
		t.Errorf("renderer calls = %d, want 1", renderer.callCount)
	}
}

func TestHandleRender_ExhaustedIsNotTransportError(t *testing.T) {
	result := &executor.RunResult{
		Success:      false,
		Error:        "NameError: name 'Sqaure' is not defined",
		AttemptsUsed: 100,
		Run:          &executor.Run{ID: "run-2"},
	}
	h := newTestHandlers(&mockRenderer{
		result: result,
		err:    fmt.Errorf("wrap: %w", executor.ErrExhausted),
	}, nil, nil)

	rec := postJSON(t, h.HandleRender, "/render", RenderRequest{Content: "class Demo(Scene): pass"})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 for a completed failing run", rec.Code)
	}
	var resp RenderResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.AttemptsUsed != 100 {
		t.Errorf("AttemptsUsed = %d, want 100", resp.AttemptsUsed)
	}
	if resp.Error == "" {
		t.Error("Error is empty")
	}
}

func TestHandleRender_InvalidInput(t *testing.T) {
	h := newTestHandlers(&mockRenderer{
		err: fmt.Errorf("bad: %w", executor.ErrInvalidInput),
	}, nil, nil)

	rec := postJSON(t, h.HandleRender, "/render", RenderRequest{Content: "class Demo(Scene): pass"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestHandleRender_ValidationErrors(t *testing.T) {
	h := newTestHandlers(&mockRenderer{result: successResult()}, nil, nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"empty body", map[string]string{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"both script_id and content", RenderRequest{ScriptID: "a", Content: "b"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"dangerous content", RenderRequest{Content: `subprocess.run(["rm", "-rf", "/"])`}, http.StatusUnprocessableEntity, "SCRIPT_REJECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleRender, "/render", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Code != tt.wantCode {
				t.Errorf("got code %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleRenderStream_EmitsAttemptEvents(t *testing.T) {
	result := successResult()
	h := newTestHandlers(&mockRenderer{result: result}, nil, nil)

	b, _ := json.Marshal(RenderRequest{Content: "class Demo(Scene): pass"})
	req := httptest.NewRequest(http.MethodPost, "/render/stream", bytes.NewReader(b))
	rec := httptest.NewRecorder()

	h.HandleRenderStream(rec, req)

	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: attempt")) {
		t.Errorf("stream missing attempt event: %q", body)
	}
	if !bytes.Contains([]byte(body), []byte("event: done")) {
		t.Errorf("stream missing done event: %q", body)
	}
}

func TestHandleGenerateScript(t *testing.T) {
	gen := &mockGenerator{script: script.Script{
		ID:         "script-1",
		Content:    "from manim import *\n\nclass Demo(Scene):\n    pass",
		SceneClass: "Demo",
		Status:     script.StatusPending,
	}}
	store := newMockStore()
	h := newTestHandlers(nil, gen, store)

	rec := postJSON(t, h.HandleGenerateScript, "/scripts", GenerateRequest{Description: "a bouncing ball"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201", rec.Code)
	}
	var resp GenerateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SceneClass != "Demo" {
		t.Errorf("SceneClass = %q, want Demo", resp.SceneClass)
	}
	if _, ok := store.scripts["script-1"]; !ok {
		t.Error("generated script not persisted")
	}
}

func TestHandleGenerateScript_Errors(t *testing.T) {
	t.Run("missing description", func(t *testing.T) {
		h := newTestHandlers(nil, &mockGenerator{}, nil)
		rec := postJSON(t, h.HandleGenerateScript, "/scripts", GenerateRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("got status %d, want 400", rec.Code)
		}
	})

	t.Run("no generator", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		rec := postJSON(t, h.HandleGenerateScript, "/scripts", GenerateRequest{Description: "x"})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("got status %d, want 503", rec.Code)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		h := newTestHandlers(nil, &mockGenerator{err: errors.New("all providers down")}, nil)
		rec := postJSON(t, h.HandleGenerateScript, "/scripts", GenerateRequest{Description: "x"})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("got status %d, want 502", rec.Code)
		}
	})

	t.Run("dangerous generation rejected", func(t *testing.T) {
		h := newTestHandlers(nil, &mockGenerator{script: script.Script{
			ID:      "bad",
			Content: "import subprocess\nsubprocess.run([\"curl\", \"evil\"])",
		}}, nil)
		rec := postJSON(t, h.HandleGenerateScript, "/scripts", GenerateRequest{Description: "x"})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("got status %d, want 422", rec.Code)
		}
	})
}

func TestHandleGetRun(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	store.runs["run-9"] = &storage.RunRecord{
		ID:           "run-9",
		ScriptID:     "script-9",
		Outcome:      "succeeded",
		AttemptsUsed: 3,
		StartedAt:    now,
	}
	h := newTestHandlers(nil, nil, store)

	req := httptest.NewRequest(http.MethodGet, "/runs/run-9", nil)
	req.SetPathValue("id", "run-9")
	rec := httptest.NewRecorder()
	h.HandleGetRun(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp RunDetailResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.AttemptsUsed != 3 {
		t.Errorf("AttemptsUsed = %d, want 3", resp.AttemptsUsed)
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	h := newTestHandlers(nil, nil, newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.HandleGetRun(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", rec.Code)
	}
}

func TestHandleListRuns_NoStore(t *testing.T) {
	h := newTestHandlers(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	h.HandleListRuns(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
}
