package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/monitor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
	"github.com/prithvirajz/Manim-Video-Generator/internal/storage"
)

// Renderer is the slice of the executor the HTTP layer drives.
type Renderer interface {
	ExecuteWithOverrides(ctx context.Context, input script.Input, extra executor.Sink, ov executor.Overrides) (*executor.RunResult, error)
}

// Generator produces scripts from natural-language descriptions.
type Generator interface {
	Generate(ctx context.Context, description, providerName string) (script.Script, error)
}

type Handlers struct {
	renderer  Renderer
	generator Generator
	store     storage.Store // may be nil
	metrics   *monitor.Metrics
	inspector *monitor.ScriptInspector // nil when inspection is disabled
	tracer    *monitor.Tracer
}

func NewHandlers(renderer Renderer, generator Generator, store storage.Store, metrics *monitor.Metrics, inspect bool) *Handlers {
	h := &Handlers{
		renderer:  renderer,
		generator: generator,
		store:     store,
		metrics:   metrics,
		tracer:    monitor.NewTracer(),
	}
	if inspect {
		h.inspector = monitor.NewScriptInspector()
	}
	return h
}

// HandleGenerateScript creates a script from a description without running it.
func (h *Handlers) HandleGenerateScript(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Description == "" {
		writeError(w, "description is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.generator == nil {
		writeError(w, "no AI providers configured", "PROVIDERS_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "generate_script", monitor.AttrProvider.String(req.Provider))
	defer span.End()

	s, err := h.generator.Generate(ctx, req.Description, req.Provider)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("script generation failed")
		writeError(w, "script generation failed", "GENERATION_FAILED", http.StatusBadGateway, r)
		return
	}

	span.SetAttributes(monitor.AttrScriptID.String(s.ID), monitor.AttrSceneClass.String(s.SceneClass))
	h.metrics.ScriptSizeBytes.Observe(float64(len(s.Content)))

	if h.inspector != nil {
		if findings := h.inspector.AnalyzeScript(s.Content); monitor.Blocking(findings) {
			writeError(w, "generated script contains disallowed constructs", "SCRIPT_REJECTED", http.StatusUnprocessableEntity, r)
			return
		}
	}

	if h.store != nil {
		now := time.Now()
		rec := &storage.ScriptRecord{
			ID:          s.ID,
			Content:     s.Content,
			SceneClass:  s.SceneClass,
			Status:      string(s.Status),
			Description: req.Description,
			Provider:    req.Provider,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := h.store.SaveScript(r.Context(), rec); err != nil {
			log.Warn().Err(err).Str("script_id", s.ID).Msg("failed to persist generated script")
		}
	}

	writeJSON(w, http.StatusCreated, GenerateResponse{
		ID:         s.ID,
		Content:    s.Content,
		SceneClass: s.SceneClass,
		Provider:   req.Provider,
		Status:     string(s.Status),
	})
}

// HandleRender executes a script, by stored ID or inline content, and blocks
// until the run terminates.
func (h *Handlers) HandleRender(w http.ResponseWriter, r *http.Request) {
	input, overrides, ok := h.renderInput(w, r)
	if !ok {
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "render")
	defer span.End()

	h.metrics.ActiveRuns.Inc()
	defer h.metrics.ActiveRuns.Dec()

	start := time.Now()
	result, err := h.renderer.ExecuteWithOverrides(ctx, input, nil, overrides)
	h.metrics.RunDuration.Observe(time.Since(start).Seconds())
	annotateRenderSpan(span, result)

	h.writeRenderOutcome(w, r, result, err, start)
}

// HandleRenderStream is HandleRender with per-attempt progress pushed as
// server-sent events.
func (h *Handlers) HandleRenderStream(w http.ResponseWriter, r *http.Request) {
	input, overrides, ok := h.renderInput(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := NewSSESink(w)
	if sink == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "render_stream")
	defer span.End()

	h.metrics.ActiveRuns.Inc()
	defer h.metrics.ActiveRuns.Dec()

	start := time.Now()
	result, err := h.renderer.ExecuteWithOverrides(ctx, input, sink, overrides)
	h.metrics.RunDuration.Observe(time.Since(start).Seconds())
	annotateRenderSpan(span, result)

	if result == nil {
		sink.SendError(errText(err))
		return
	}
	sink.SendDone(renderResponse(result, err, start))
}

// renderInput validates a render request and resolves it into executor input
// plus per-request budget overrides. On failure it writes the error response
// and returns ok=false.
func (h *Handlers) renderInput(w http.ResponseWriter, r *http.Request) (script.Input, executor.Overrides, bool) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return script.Input{}, executor.Overrides{}, false
	}

	overrides := executor.Overrides{
		MaxAttempts:    req.MaxAttempts,
		AttemptTimeout: req.Timeout.Duration,
	}

	switch {
	case req.ScriptID != "" && req.Content != "":
		writeError(w, "script_id and content are mutually exclusive", "INVALID_REQUEST", http.StatusBadRequest, r)
		return script.Input{}, executor.Overrides{}, false
	case req.ScriptID != "":
		return script.FromHandle(req.ScriptID), overrides, true
	case req.Content != "":
		h.metrics.ScriptSizeBytes.Observe(float64(len(req.Content)))
		if h.inspector != nil {
			if findings := h.inspector.AnalyzeScript(req.Content); monitor.Blocking(findings) {
				writeError(w, "script contains disallowed constructs", "SCRIPT_REJECTED", http.StatusUnprocessableEntity, r)
				return script.Input{}, executor.Overrides{}, false
			}
		}
		return script.FromText(req.Content), overrides, true
	default:
		writeError(w, "script_id or content is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return script.Input{}, executor.Overrides{}, false
	}
}

func (h *Handlers) writeRenderOutcome(w http.ResponseWriter, r *http.Request, result *executor.RunResult, err error, start time.Time) {
	if executor.IsInvalidInput(err) {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if result == nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("render failed")
		writeError(w, "render failed", "RENDER_FAILED", http.StatusInternalServerError, r)
		return
	}
	// Exhausted runs are a completed request with success=false, not a
	// transport error.
	writeJSON(w, http.StatusOK, renderResponse(result, err, start))
}

func annotateRenderSpan(span trace.Span, result *executor.RunResult) {
	if result == nil {
		return
	}
	span.SetAttributes(monitor.AttrAttempt.Int(result.AttemptsUsed))
	if result.Run != nil {
		span.SetAttributes(monitor.AttrRunID.String(result.Run.ID), monitor.AttrOutcome.String(result.Run.FinalOutcome))
	}
}

func renderResponse(result *executor.RunResult, err error, start time.Time) RenderResponse {
	resp := RenderResponse{
		Success:      result.Success,
		VideoPath:    result.OutputPath,
		AttemptsUsed: result.AttemptsUsed,
		Error:        result.Error,
		Script:       result.Script,
		Duration:     time.Since(start).Round(time.Millisecond).String(),
	}
	if result.Run != nil {
		resp.RunID = result.Run.ID
	}
	if resp.Error == "" && err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// HandleGetScript returns a stored script by ID.
func (h *Handlers) HandleGetScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "script ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	rec, err := h.store.GetScript(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "script not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleListRuns lists stored runs, newest first.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.RunFilter{
		Outcome:  r.URL.Query().Get("outcome"),
		ScriptID: r.URL.Query().Get("script_id"),
		Limit:    100,
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun returns one run with its attempt history.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "run ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	rec, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "run not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	resp := RunDetailResponse{
		ID:           rec.ID,
		ScriptID:     rec.ScriptID,
		Container:    rec.Container,
		Outcome:      rec.Outcome,
		AttemptsUsed: rec.AttemptsUsed,
		OutputPath:   rec.OutputPath,
		LastError:    rec.LastError,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}

	attempts, err := h.store.ListAttempts(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("run_id", id).Msg("failed to load attempt history")
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, AttemptEvent{
			Number:  a.Number,
			Outcome: a.Outcome,
			Class:   a.Class,
			Hint:    a.Hint,
			Error:   a.Error,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func errText(err error) string {
	if err == nil {
		return "render failed"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
